// SPDX-License-Identifier: GPL-3.0-or-later
package persistence

import (
	"testing"

	"github.com/dmsbridge/go-mail-dms/domain"
	"github.com/dmsbridge/go-mail-dms/log"

	"github.com/stretchr/testify/assert"
)

func newPersistence(t *testing.T) *Persistence {
	t.Helper()
	log.InitLogging("error")
	p, err := NewPersistence(":memory:")
	assert.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestCounterReserveCommit(t *testing.T) {
	p := newPersistence(t)

	value, err := p.Reserve("019Z")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), value)

	// Reserving again without a commit re-reads the same value.
	again, err := p.Reserve("019Z")
	assert.NoError(t, err)
	assert.Equal(t, value, again)

	err = p.Commit("019Z", value)
	assert.NoError(t, err)

	next, err := p.Reserve("019Z")
	assert.NoError(t, err)
	assert.Equal(t, value+1, next)
}

func TestJournal(t *testing.T) {
	p := newPersistence(t)

	entries := []*domain.JournalEntry{
		{MailID: 1, Subject: "a", Outcome: "imported", ExternalID: "019Z00000001"},
		{MailID: 2, Subject: "b", Outcome: "imported", ExternalID: "019Z00000002"},
		{MailID: 3, Subject: "c", Outcome: "error", Detail: "metadata rejected"},
	}
	for _, entry := range entries {
		assert.NoError(t, p.Record(entry))
	}

	counts, err := p.OutcomeCounts()
	assert.NoError(t, err)
	assert.Equal(t, map[string]int{"imported": 2, "error": 1}, counts)
}
