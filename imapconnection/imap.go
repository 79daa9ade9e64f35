// SPDX-License-Identifier: GPL-3.0-or-later

// Package imapconnection drives the mailbox. Message status lives in IMAP
// keyword flags: a message without any of the terminal keywords is waiting,
// flag transitions clear every competing keyword before setting the target
// one so applying a transition twice ends in the same state.
package imapconnection

import (
	"fmt"
	"io"
	"time"

	"github.com/dmsbridge/go-mail-dms/domain"
	"github.com/dmsbridge/go-mail-dms/log"

	"github.com/emersion/go-imap"
	uidplus "github.com/emersion/go-imap-uidplus"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
)

// ConnectionError reports a failed connect or login. It is fatal to the
// whole run.
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("could not connect to %s: %v", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

var terminalKeywords = []string{domain.KeywordImported, domain.KeywordError, domain.KeywordUnsupported}

type ImapConnection struct {
	connection  *client.Client
	mailCleaner cleaner

	server, user string

	l *logrus.Logger
}

func NewImapConnection(server string, useTLS bool, user, password string) (*ImapConnection, error) {
	var imapClient *client.Client
	var err error
	if useTLS {
		imapClient, err = client.DialTLS(server, nil)
	} else {
		imapClient, err = client.Dial(server)
	}
	if err != nil {
		return nil, &ConnectionError{Server: server, Err: err}
	}

	err = imapClient.Login(user, password)
	if err != nil {
		return nil, &ConnectionError{Server: server, Err: fmt.Errorf("could not login: %w", err)}
	}

	_, err = imapClient.Select("INBOX", false)
	if err != nil {
		return nil, &ConnectionError{Server: server, Err: fmt.Errorf("could not select INBOX: %w", err)}
	}

	conn := &ImapConnection{
		connection: imapClient,
		server:     server,
		user:       user,
		l:          log.Logger(log.LOG_IMAP),
	}

	uidPlusClient := uidplus.NewClient(imapClient)
	uidPlusSupported, err := uidPlusClient.SupportUidPlus()
	if err != nil {
		return nil, &ConnectionError{Server: server, Err: fmt.Errorf("could not check for UIDPLUS support: %w", err)}
	}

	baseLogger := conn.l.WithFields(logrus.Fields{"server": server, "user": user})
	baseLogger.Debug("Logged in to server")

	if uidPlusSupported {
		baseLogger.Debug("UIDPLUS supported on server, using UID delete for cleanup")
		conn.mailCleaner = &uidPlusCleaner{
			imapConn:      conn,
			uidplusClient: uidPlusClient,
		}
	} else {
		baseLogger.Info("UIDPLUS not supported on server, falling back to flag&expunge for cleanup")
		conn.mailCleaner = &compatibilityCleaner{
			imapConn: conn,
		}
	}

	return conn, nil
}

// FetchWaiting returns every message carrying none of the terminal status
// keywords. The flags come back on the same fetch as the body, so the
// exclusion check is per message and sees the state at fetch time.
func (ic *ImapConnection) FetchWaiting() ([]*domain.Mail, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = terminalKeywords
	uids, err := ic.connection.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("could not search for waiting mails: %w", err)
	}

	if len(uids) == 0 {
		return []*domain.Mail{}, nil
	}

	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	fetchItems := []imap.FetchItem{imap.FetchFlags, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- ic.connection.UidFetch(seqset, fetchItems, messages)
	}()

	mails := []*domain.Mail{}
	for msg := range messages {
		if hasTerminalFlag(msg.Flags) {
			// Flagged between search and fetch, already handled.
			continue
		}

		r := msg.GetBody(section)
		if r == nil {
			return nil, fmt.Errorf("could not get body of mail %d", msg.Uid)
		}
		rawBody, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("could not read mail body: %w", err)
		}

		mails = append(
			mails,
			&domain.Mail{
				ID:  msg.Uid,
				Raw: rawBody,
			},
		)
	}

	err = <-done
	if err != nil {
		return nil, fmt.Errorf("could not fetch waiting mails: %w", err)
	}

	ic.l.WithField("waiting", len(mails)).Debug("Fetched waiting mails")
	return mails, nil
}

func (ic *ImapConnection) GetMail(id uint32) (*domain.Mail, error) {
	seqset := &imap.SeqSet{}
	seqset.AddNum(id)

	section := &imap.BodySectionName{Peek: true}
	fetchItems := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- ic.connection.UidFetch(seqset, fetchItems, messages)
	}()

	var mail *domain.Mail
	for msg := range messages {
		r := msg.GetBody(section)
		if r == nil {
			continue
		}
		rawBody, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("could not read mail body: %w", err)
		}
		mail = &domain.Mail{ID: msg.Uid, Raw: rawBody}
	}

	err := <-done
	if err != nil {
		return nil, fmt.Errorf("could not fetch mail %d: %w", id, err)
	}
	if mail == nil {
		return nil, fmt.Errorf("mail %d not found", id)
	}

	return mail, nil
}

func (ic *ImapConnection) MarkImported(id uint32) error {
	return ic.setStatus(id, domain.KeywordImported)
}

func (ic *ImapConnection) MarkError(id uint32) error {
	return ic.setStatus(id, domain.KeywordError)
}

func (ic *ImapConnection) MarkUnsupported(id uint32) error {
	return ic.setStatus(id, domain.KeywordUnsupported)
}

// setStatus writes the full flag delta of a transition: every competing
// status keyword is removed, then exactly one is added. Both stores are
// idempotent, so repeating a transition leaves the flags unchanged.
func (ic *ImapConnection) setStatus(id uint32, keyword string) error {
	seqset := &imap.SeqSet{}
	seqset.AddNum(id)

	remove := []interface{}{domain.KeywordWaiting}
	for _, k := range terminalKeywords {
		if k != keyword {
			remove = append(remove, k)
		}
	}

	err := ic.connection.UidStore(seqset, imap.FormatFlagsOp(imap.RemoveFlags, true), remove, nil)
	if err != nil {
		return fmt.Errorf("could not clear status flags of mail %d: %w", id, err)
	}

	err = ic.connection.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{keyword}, nil)
	if err != nil {
		return fmt.Errorf("could not set %s flag on mail %d: %w", keyword, id, err)
	}

	ic.l.WithFields(logrus.Fields{"mail": id, "status": keyword}).Debug("Set mail status")
	return nil
}

// RequeueErrored puts every message flagged as error back in waiting state.
func (ic *ImapConnection) RequeueErrored() (int, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithFlags = []string{domain.KeywordError}
	uids, err := ic.connection.UidSearch(criteria)
	if err != nil {
		return 0, fmt.Errorf("could not search for errored mails: %w", err)
	}

	if len(uids) == 0 {
		return 0, nil
	}

	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)

	remove := []interface{}{domain.KeywordError, domain.KeywordImported}
	err = ic.connection.UidStore(seqset, imap.FormatFlagsOp(imap.RemoveFlags, true), remove, nil)
	if err != nil {
		return 0, fmt.Errorf("could not clear error flags: %w", err)
	}

	err = ic.connection.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{domain.KeywordWaiting}, nil)
	if err != nil {
		return 0, fmt.Errorf("could not restore waiting flag: %w", err)
	}

	ic.l.WithField("requeued", len(uids)).Info("Requeued errored mails")
	return len(uids), nil
}

func (ic *ImapConnection) ListLast(n int) ([]*domain.MailInfo, error) {
	criteria := imap.NewSearchCriteria()
	uids, err := ic.connection.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("could not list mails: %w", err)
	}

	if len(uids) > n {
		uids = uids[len(uids)-n:]
	}
	if len(uids) == 0 {
		return []*domain.MailInfo{}, nil
	}

	return ic.fetchInfos(uids)
}

func (ic *ImapConnection) Stats() (*domain.MailboxStats, error) {
	criteria := imap.NewSearchCriteria()
	uids, err := ic.connection.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("could not list mails: %w", err)
	}

	stats := &domain.MailboxStats{
		Total: len(uids),
		Flags: map[string]int{},
	}
	if len(uids) == 0 {
		return stats, nil
	}

	infos, err := ic.fetchInfos(uids)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		for _, flag := range info.Flags {
			stats.Flags[flag]++
		}
	}

	return stats, nil
}

// CleanImported removes imported messages older than the given date from
// the mailbox. With listOnly, the affected messages are only reported.
func (ic *ImapConnection) CleanImported(olderThan time.Time, listOnly bool) ([]*domain.MailInfo, error) {
	criteria := imap.NewSearchCriteria()
	criteria.Before = olderThan
	criteria.WithFlags = []string{domain.KeywordImported}
	uids, err := ic.connection.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("could not search for imported mails: %w", err)
	}

	if len(uids) == 0 {
		return []*domain.MailInfo{}, nil
	}

	infos, err := ic.fetchInfos(uids)
	if err != nil {
		return nil, err
	}

	if listOnly {
		return infos, nil
	}

	err = ic.mailCleaner.delete(uids)
	if err != nil {
		return nil, fmt.Errorf("could not delete imported mails: %w", err)
	}

	ic.l.WithField("deleted", len(uids)).Info("Cleaned imported mails")
	return infos, nil
}

func (ic *ImapConnection) fetchInfos(uids []uint32) ([]*domain.MailInfo, error) {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)

	fetchItems := []imap.FetchItem{imap.FetchFlags, imap.FetchUid, imap.FetchEnvelope}

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- ic.connection.UidFetch(seqset, fetchItems, messages)
	}()

	infos := []*domain.MailInfo{}
	for msg := range messages {
		subject := ""
		if msg.Envelope != nil {
			subject = msg.Envelope.Subject
		}
		infos = append(
			infos,
			&domain.MailInfo{
				ID:      msg.Uid,
				Subject: subject,
				Flags:   msg.Flags,
			},
		)
	}

	err := <-done
	if err != nil {
		return nil, fmt.Errorf("could not fetch mail infos: %w", err)
	}

	return infos, nil
}

// Close logs out of the server. It is safe to call on an already broken
// session; the error is reported but a cleanup path may ignore it.
func (ic *ImapConnection) Close() error {
	err := ic.connection.Logout()
	if err != nil {
		ic.l.WithField("error", err).Warn("Logout failed, session may already be gone")
		return err
	}
	return nil
}

func (ic *ImapConnection) flagDeleted(uids []uint32) (*imap.SeqSet, error) {
	seqset := &imap.SeqSet{}
	seqset.AddNum(uids...)
	err := ic.connection.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.DeletedFlag}, nil)
	if err != nil {
		return nil, fmt.Errorf("could not set delete flag: %w", err)
	}

	return seqset, nil
}

func hasTerminalFlag(flags []string) bool {
	for _, flag := range flags {
		for _, keyword := range terminalKeywords {
			if flag == keyword {
				return true
			}
		}
	}
	return false
}
