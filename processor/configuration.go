// SPDX-License-Identifier: GPL-3.0-or-later
package processor

import (
	"fmt"
	"regexp"

	"github.com/dmsbridge/go-mail-dms/domain"
)

type ConfigFunc func(c *configuration) error

// SenderPattern restricts processing to mails submitted by an agent whose
// address matches the pattern. Non-matching mails are reported and left
// untouched.
func SenderPattern(pattern *regexp.Regexp) ConfigFunc {
	return func(c *configuration) error {
		if pattern == nil {
			return fmt.Errorf("SenderPattern cannot be nil")
		}

		c.SenderPattern = pattern
		return nil
	}
}

// Journal records every processed mail's outcome in the given journal.
func Journal(journal domain.Journal) ConfigFunc {
	return func(c *configuration) error {
		if journal == nil {
			return fmt.Errorf("Journal cannot be nil")
		}

		c.Journal = journal
		return nil
	}
}

type configuration struct {
	SenderPattern *regexp.Regexp

	Journal domain.Journal
}
