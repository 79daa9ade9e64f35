// SPDX-License-Identifier: GPL-3.0-or-later
package notify

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/dmsbridge/go-mail-dms/domain"
	"github.com/dmsbridge/go-mail-dms/log"

	"github.com/jhillyerd/enmime"
	"github.com/stretchr/testify/assert"
)

type fakeSender struct {
	from    string
	to      []string
	message []byte
}

func (s *fakeSender) Send(from string, to []string, message []byte) error {
	s.from = from
	s.to = to
	s.message = message
	return nil
}

func newMailer(t *testing.T) (*Mailer, *fakeSender) {
	t.Helper()
	log.InitLogging("error")
	sender := &fakeSender{}
	return NewMailer(sender, "019Z", "import@example.com", "noreply@example.com", "operator@example.com"), sender
}

func parseSent(t *testing.T, message []byte) *enmime.Envelope {
	t.Helper()
	env, err := enmime.ReadEnvelope(bytes.NewReader(message))
	assert.NoError(t, err)
	return env
}

func TestNotifyException(t *testing.T) {
	mailer, sender := newMailer(t)
	raw := []byte("From: a@example.com\r\nSubject: broken\r\n\r\nbody")

	err := mailer.NotifyException(42, raw, fmt.Errorf("metadata rejected"))
	assert.NoError(t, err)

	assert.Equal(t, []string{"operator@example.com"}, sender.to)
	env := parseSent(t, sender.message)
	assert.Equal(t, "Error handling an email for client 019Z", env.GetHeader("Subject"))
	assert.Contains(t, env.Text, "mail id : 42")
	assert.Contains(t, env.Text, "metadata rejected")
	assert.Contains(t, env.Text, "IMAP login : import@example.com")
	assertOriginalAttached(t, env, raw)
}

func TestNotifyUnsupportedOrigin(t *testing.T) {
	mailer, sender := newMailer(t)
	raw := []byte("From: carol@example.com\r\nSubject: direct\r\n\r\nbody")

	err := mailer.NotifyUnsupportedOrigin(raw, "carol@example.com")
	assert.NoError(t, err)

	// The refusal goes back to the original sender, not to the operator.
	assert.Equal(t, []string{"carol@example.com"}, sender.to)
	env := parseSent(t, sender.message)
	assert.Contains(t, env.Text, "Forward As > Attachment")
	assertOriginalAttached(t, env, raw)
}

func TestNotifyIgnoredBlindCopiesOperator(t *testing.T) {
	mailer, sender := newMailer(t)
	raw := []byte("From: eve@other.example\r\nSubject: nope\r\n\r\nbody")

	err := mailer.NotifyIgnored(7, raw, "eve@other.example")
	assert.NoError(t, err)

	// Operator is on the envelope but not in the headers.
	assert.Equal(t, []string{"eve@other.example", "operator@example.com"}, sender.to)
	env := parseSent(t, sender.message)
	assert.NotContains(t, env.GetHeader("To"), "operator@example.com")
	assert.Contains(t, env.Text, "eve@other.example is not allowed")
	assert.Contains(t, env.Text, "mail id : 7")
}

func TestNotifySummary(t *testing.T) {
	mailer, sender := newMailer(t)

	err := mailer.NotifySummary(&domain.Summary{Imported: 3, Unsupported: 1, Ignored: 2, Errors: 1})
	assert.NoError(t, err)

	env := parseSent(t, sender.message)
	assert.Contains(t, env.Text, "3 emails have been imported. 1 emails are unsupported. 1 emails have caused an error. 2 emails are ignored.")
	assert.Empty(t, env.Attachments)
}

func assertOriginalAttached(t *testing.T, env *enmime.Envelope, raw []byte) {
	t.Helper()
	for _, part := range append(env.Attachments, env.OtherParts...) {
		if part.ContentType == "message/rfc822" {
			assert.Equal(t, raw, part.Content)
			return
		}
	}
	t.Fatal("no message/rfc822 attachment found")
}
