package repository

import (
	"strings"
	"testing"
)

func TestReminderScanSkipsFinishedAndSent(t *testing.T) {
	for _, fragment := range []string{
		"reminder_sent = false",
		"status NOT IN ('Completed', 'Cancelled')",
		"reminder_at <= $1",
		"reminder_at IS NULL AND due_date > $1 AND due_date <= $2",
		"FOR UPDATE SKIP LOCKED",
	} {
		if !strings.Contains(reminderQuery, fragment) {
			t.Fatalf("reminder query missing %q", fragment)
		}
	}
}

func TestJoinsStayInTenant(t *testing.T) {
	for _, fragment := range []string{"ct.tenant_id = a.tenant_id", "o.tenant_id = a.tenant_id"} {
		if !strings.Contains(activityFrom, fragment) {
			t.Fatalf("activity joins missing %q", fragment)
		}
	}
	if !strings.Contains(reminderQuery, "u.tenant_id = c.tenant_id") {
		t.Fatal("assignee lookup must be tenant scoped")
	}
}
