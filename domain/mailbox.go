// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "time"

//go:generate mockgen -destination=mocks/mailbox.go -package=mocks . Mailbox

// Status keywords stored as IMAP flags. A message carrying none of the
// terminal keywords is waiting for processing.
const (
	KeywordWaiting     = "waiting"
	KeywordImported    = "imported"
	KeywordError       = "error"
	KeywordUnsupported = "unsupported"
)

type Mail struct {
	ID  uint32
	Raw []byte
}

type MailInfo struct {
	ID      uint32
	Subject string
	Flags   []string
}

type MailboxStats struct {
	Total int
	Flags map[string]int
}

type Mailbox interface {
	// FetchWaiting returns every message that carries none of the terminal
	// keywords. The flag check happens per message, on the same fetch that
	// retrieves the body.
	FetchWaiting() ([]*Mail, error)
	GetMail(id uint32) (*Mail, error)

	// Flag transitions clear any competing status keyword and set exactly
	// one. Applying the same transition twice yields the same flag state.
	MarkImported(id uint32) error
	MarkError(id uint32) error
	MarkUnsupported(id uint32) error

	// RequeueErrored puts every message flagged as error back in waiting
	// state and returns the number of affected messages.
	RequeueErrored() (int, error)

	ListLast(n int) ([]*MailInfo, error)
	Stats() (*MailboxStats, error)
	CleanImported(olderThan time.Time, listOnly bool) ([]*MailInfo, error)

	Close() error
}
