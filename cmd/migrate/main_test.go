package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandListsSubcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"up", "down", "status", "version"}, names)
}

func TestMissingDatabaseURLFails(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"version"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database url required")
}
