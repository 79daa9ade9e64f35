// SPDX-License-Identifier: GPL-3.0-or-later
package domain

//go:generate mockgen -destination=mocks/notify.go -package=mocks . Notifier

// Summary counts the outcomes of one full processing pass.
type Summary struct {
	Imported    int
	Unsupported int
	Ignored     int
	Errors      int
}

// Notifier sends operator and sender facing mails. Every notification
// attaches the raw mail it concerns so nothing is lost when a message ends
// up in a terminal state.
type Notifier interface {
	NotifyException(mailID uint32, raw []byte, cause error) error
	NotifyUnsupportedOrigin(raw []byte, from string) error
	NotifyIgnored(mailID uint32, raw []byte, agent string) error
	NotifySummary(summary *Summary) error
}
