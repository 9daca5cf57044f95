package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarshalNullable(t *testing.T) {
	raw, err := marshalNullable(nil)
	assert.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = marshalNullable(map[string]any{"status": "Open"})
	assert.NoError(t, err)
	assert.JSONEq(t, `{"status":"Open"}`, string(raw))
}
