package domain

import "time"

type ReminderAction int

const (
	// ReminderSkip leaves the package untouched until a later run.
	ReminderSkip ReminderAction = iota
	// ReminderMarkOnly counts the reminder without sending mail.
	ReminderMarkOnly
	ReminderSend
)

// ReminderAction decides what an expiry reminder run does with p at now.
func (p *Package) ReminderAction(now time.Time) ReminderAction {
	if p.ValidAt == nil {
		return ReminderSkip
	}
	if p.RemoveAt != nil && !p.RemoveAt.After(now) {
		return ReminderMarkOnly
	}

	days := p.Type().ReminderDays()
	if days == 0 {
		return ReminderMarkOnly
	}
	allowFrom := now.AddDate(0, 0, days)
	if p.ValidUntil == nil || p.ValidUntil.Before(now) || p.ValidUntil.After(allowFrom) {
		return ReminderSkip
	}
	return ReminderSend
}

// MaxReminderDays is the widest reminder window of any package type.
func MaxReminderDays() int {
	widest := 0
	for _, t := range AllPackageTypes {
		widest = max(widest, t.ReminderDays())
	}
	return widest
}
