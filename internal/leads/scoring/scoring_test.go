package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestScoreEmptyProfile(t *testing.T) {
	r := Score(Profile{Rating: "Cold"})
	assert.Equal(t, 0, r.Score)
	assert.Empty(t, r.Factors)
	assert.Equal(t, Version, r.Version)
}

func TestScoreTiers(t *testing.T) {
	cases := []struct {
		name string
		p    Profile
		want int
	}{
		{"contact data", Profile{HasEmail: true, HasPhone: true}, 20},
		{"mid-size company", Profile{HasCompany: true, EmployeeCount: ptr(60)}, 15},
		{"large company", Profile{HasCompany: true, EmployeeCount: ptr(300)}, 20},
		{"small deal", Profile{EstimatedValue: ptr(9999.0)}, 0},
		{"medium deal", Profile{EstimatedValue: ptr(10000.0)}, 10},
		{"large deal", Profile{EstimatedValue: ptr(75000.0)}, 20},
		{"referral", Profile{Source: ptr("Referral")}, 15},
		{"website", Profile{Source: ptr("Website")}, 10},
		{"cold call", Profile{Source: ptr("ColdCall")}, 5},
		{"warm", Profile{Rating: "Warm"}, 10},
		{"hot with title", Profile{Rating: "Hot", HasJobTitle: true, HasIndustry: true}, 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Score(tc.p).Score)
		})
	}
}

func TestScoreIsCapped(t *testing.T) {
	r := Score(Profile{
		HasEmail: true, HasPhone: true, HasCompany: true, HasJobTitle: true, HasIndustry: true,
		EmployeeCount: ptr(1000), EstimatedValue: ptr(100000.0), Source: ptr("Partner"), Rating: "Hot",
	})
	assert.Equal(t, 100, r.Score)
	assert.Len(t, r.Factors, 9)
}
