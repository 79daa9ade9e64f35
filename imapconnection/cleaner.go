// SPDX-License-Identifier: GPL-3.0-or-later
package imapconnection

//go:generate mockgen -destination=cleaner_mocks_test.go -package=imapconnection -source cleaner.go
import (
	"fmt"

	"github.com/emersion/go-imap"
)

type cleaner interface {
	delete(uids []uint32) error
}

type deletedFlagger interface {
	flagDeleted(uids []uint32) (*imap.SeqSet, error)
}

type uidExpunger interface {
	UidExpunge(seqSet *imap.SeqSet, ch chan uint32) error
}

// uidPlusCleaner expunges exactly the given uids via UIDPLUS, untouched by
// whatever else carries a deleted flag in the folder.
type uidPlusCleaner struct {
	imapConn      deletedFlagger
	uidplusClient uidExpunger
}

func (u *uidPlusCleaner) delete(uids []uint32) error {
	seqset, err := u.imapConn.flagDeleted(uids)
	if err != nil {
		return fmt.Errorf("could not flag items as deleted: %w", err)
	}

	out := make(chan uint32)
	done := make(chan error, 1)
	go func() {
		done <- u.uidplusClient.UidExpunge(seqset, out)
	}()

	expunged := []uint32{}
	for uid := range out {
		expunged = append(expunged, uid)
	}

	err = <-done
	if err != nil {
		return fmt.Errorf("could not expunge mails: %w", err)
	}

	if len(expunged) != len(uids) {
		return fmt.Errorf("unexpected number of expunges, expected %d got %d", len(uids), len(expunged))
	}

	return nil
}

type flaggerExpungerSearcher interface {
	deletedFlagger
	expunge(ch chan uint32) error
	searchDeleted() (uids []uint32, err error)
}

// compatibilityCleaner works on servers without UIDPLUS. A plain EXPUNGE
// removes everything with the deleted flag set, so it refuses to run when
// the folder already carries stray deleted flags.
type compatibilityCleaner struct {
	imapConn flaggerExpungerSearcher
}

var ItemsWithDeletedFlagPresent = fmt.Errorf("folder has previous items with delete flag set")

func (c *compatibilityCleaner) delete(uids []uint32) error {
	deleted, err := c.imapConn.searchDeleted()
	if err != nil {
		return fmt.Errorf("could not check for delete readiness: %w", err)
	}
	if len(deleted) != 0 {
		return fmt.Errorf("folder is not ready for delete: %w", ItemsWithDeletedFlagPresent)
	}

	_, err = c.imapConn.flagDeleted(uids)
	if err != nil {
		return fmt.Errorf("could not set deleted flag: %w", err)
	}

	out := make(chan uint32)
	done := make(chan error, 1)
	go func() {
		done <- c.imapConn.expunge(out)
	}()

	expunged := []uint32{}
	for uid := range out {
		expunged = append(expunged, uid)
	}

	err = <-done
	if err != nil {
		return fmt.Errorf("could not expunge mails: %w", err)
	}

	if len(expunged) != len(uids) {
		return fmt.Errorf("unexpected number of expunges, expected %d got %d", len(uids), len(expunged))
	}

	return nil
}

func (ic *ImapConnection) expunge(ch chan uint32) error {
	return ic.connection.Expunge(ch)
}

func (ic *ImapConnection) searchDeleted() ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithFlags = []string{imap.DeletedFlag}
	uids, err := ic.connection.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("could not search for deleted in folder: %w", err)
	}

	return uids, nil
}
