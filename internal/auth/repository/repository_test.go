package repository

import (
	"strings"
	"testing"
)

func TestLoginColumnsIncludeTenantState(t *testing.T) {
	for _, col := range []string{"t.status", "u.failed_login_attempts", "u.locked_until"} {
		if !strings.Contains(loginColumns, col) {
			t.Fatalf("login query must select %s", col)
		}
	}
}
