// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

import (
	"fmt"
	"testing"

	"github.com/dmsbridge/go-mail-dms/domain"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
)

type fakeConn struct {
	flagged     [][]uint32
	flagErr     error
	expunged    []uint32
	expungeErr  error
	deletedUids []uint32
	searchErr   error
}

func (f *fakeConn) flagDeleted(uids []uint32) (*imap.SeqSet, error) {
	if f.flagErr != nil {
		return nil, f.flagErr
	}
	f.flagged = append(f.flagged, uids)
	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)
	return seqset, nil
}

func (f *fakeConn) UidExpunge(seqSet *imap.SeqSet, ch chan uint32) error {
	for _, uid := range f.expunged {
		ch <- uid
	}
	close(ch)
	return f.expungeErr
}

func (f *fakeConn) expunge(ch chan uint32) error {
	for _, uid := range f.expunged {
		ch <- uid
	}
	close(ch)
	return f.expungeErr
}

func (f *fakeConn) searchDeleted() ([]uint32, error) {
	return f.deletedUids, f.searchErr
}

func TestUidPlusCleanerDelete(t *testing.T) {
	conn := &fakeConn{expunged: []uint32{3, 7}}
	cleaner := &uidPlusCleaner{imapConn: conn, uidplusClient: conn}

	err := cleaner.delete([]uint32{3, 7})

	assert.NoError(t, err)
	assert.Equal(t, [][]uint32{{3, 7}}, conn.flagged)
}

func TestUidPlusCleanerExpungeCountMismatch(t *testing.T) {
	conn := &fakeConn{expunged: []uint32{3}}
	cleaner := &uidPlusCleaner{imapConn: conn, uidplusClient: conn}

	err := cleaner.delete([]uint32{3, 7})

	assert.ErrorContains(t, err, "unexpected number of expunges")
}

func TestUidPlusCleanerFlagFailure(t *testing.T) {
	conn := &fakeConn{flagErr: fmt.Errorf("broken")}
	cleaner := &uidPlusCleaner{imapConn: conn, uidplusClient: conn}

	err := cleaner.delete([]uint32{3})

	assert.ErrorContains(t, err, "could not flag items as deleted")
}

func TestCompatibilityCleanerDelete(t *testing.T) {
	conn := &fakeConn{expunged: []uint32{5, 6}}
	cleaner := &compatibilityCleaner{imapConn: conn}

	err := cleaner.delete([]uint32{5, 6})

	assert.NoError(t, err)
	assert.Equal(t, [][]uint32{{5, 6}}, conn.flagged)
}

func TestCompatibilityCleanerRefusesDirtyFolder(t *testing.T) {
	conn := &fakeConn{deletedUids: []uint32{99}}
	cleaner := &compatibilityCleaner{imapConn: conn}

	err := cleaner.delete([]uint32{5})

	assert.ErrorIs(t, err, ItemsWithDeletedFlagPresent)
	assert.Empty(t, conn.flagged)
}

func TestHasTerminalFlag(t *testing.T) {
	tests := []struct {
		name     string
		flags    []string
		expected bool
	}{
		{"no flags", []string{}, false},
		{"waiting only", []string{domain.KeywordWaiting}, false},
		{"system flags", []string{imap.SeenFlag, imap.AnsweredFlag}, false},
		{"imported", []string{imap.SeenFlag, domain.KeywordImported}, true},
		{"error", []string{domain.KeywordError}, true},
		{"unsupported", []string{domain.KeywordUnsupported}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, hasTerminalFlag(test.flags))
		})
	}
}
