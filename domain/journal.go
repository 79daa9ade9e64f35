// SPDX-License-Identifier: GPL-3.0-or-later
package domain

//go:generate mockgen -destination=mocks/journal.go -package=mocks . Journal

const (
	OutcomeImported    = "imported"
	OutcomeUnsupported = "unsupported"
	OutcomeIgnored     = "ignored"
	OutcomeError       = "error"
)

type JournalEntry struct {
	MailID     uint32
	Subject    string
	Outcome    string
	ExternalID string
	Detail     string
}

// Journal records the outcome of every processed message for later
// inspection. Journal failures never fail the processing pass.
type Journal interface {
	Record(entry *JournalEntry) error
	OutcomeCounts() (map[string]int, error)
}
