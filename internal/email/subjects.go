package email

const (
	subjectWelcomeFmt          = "Welcome to %s"
	subjectActivityReminderFmt = "Reminder: %s"
	subjectSLABreachFmt        = "SLA breached on ticket %s"
)
