// Package scoring rates how promising a lead is from its profile alone.
package scoring

// Version identifies the point table. Bump it when the weights change.
const Version = "2026-v1"

const maxScore = 100

// Profile is the subset of a lead that feeds the score.
type Profile struct {
	HasEmail       bool
	HasPhone       bool
	HasCompany     bool
	HasJobTitle    bool
	HasIndustry    bool
	EmployeeCount  *int
	EstimatedValue *float64
	Source         *string
	Rating         string
}

// Factor is one contribution to the score.
type Factor struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

type Result struct {
	Score   int      `json:"score"`
	Version string   `json:"version"`
	Factors []Factor `json:"factors"`
}

// Score applies the point table and caps the total at 100.
func Score(p Profile) Result {
	var factors []Factor
	add := func(name string, points int) {
		factors = append(factors, Factor{Name: name, Points: points})
	}

	if p.HasEmail {
		add("email", 10)
	}
	if p.HasPhone {
		add("phone", 10)
	}
	if p.HasCompany {
		add("company", 10)
	}
	if p.HasJobTitle {
		add("jobTitle", 5)
	}
	if p.HasIndustry {
		add("industry", 5)
	}
	if p.EmployeeCount != nil {
		switch n := *p.EmployeeCount; {
		case n >= 250:
			add("employees", 10)
		case n >= 50:
			add("employees", 5)
		}
	}
	if p.EstimatedValue != nil {
		switch v := *p.EstimatedValue; {
		case v >= 50000:
			add("estimatedValue", 20)
		case v >= 10000:
			add("estimatedValue", 10)
		}
	}
	if p.Source != nil && *p.Source != "" {
		add("source", sourcePoints(*p.Source))
	}
	switch p.Rating {
	case "Hot":
		add("rating", 20)
	case "Warm":
		add("rating", 10)
	}

	total := 0
	for _, f := range factors {
		total += f.Points
	}
	return Result{Score: min(total, maxScore), Version: Version, Factors: factors}
}

func sourcePoints(source string) int {
	switch source {
	case "Referral", "Partner":
		return 15
	case "Website", "TradeShow", "Email":
		return 10
	default:
		return 5
	}
}
