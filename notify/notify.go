// SPDX-License-Identifier: GPL-3.0-or-later

// Package notify sends the operator and sender facing mails: exceptions,
// refused submissions, ignored senders and the run summary. Every mail
// about a concrete message carries the raw original as a message/rfc822
// attachment so nothing is lost once the message sits in a terminal state.
package notify

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/dmsbridge/go-mail-dms/domain"
	"github.com/dmsbridge/go-mail-dms/log"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
)

const errorBody = `Problematic mail is attached.

Client ID : %s
IMAP login : %s

mail id : %d

Corresponding exception : %v
`

const unsupportedOriginBody = `Dear user,

The attached email has been refused because it wasn't sent to us as an attachment.

Please try again, by following one of these methods.

If you are using Microsoft Outlook:
- In the ribbon, click on the More dropdown button next to the standard Forward button
- Choose Forward as Attachment
- Send the opened draft to the import address.

If you are using Mozilla Thunderbird:
- Open the email you want to import.
- Click on the menu Message > Forward As > Attachment.
- Send the opened draft to the import address.

Please excuse us for the inconvenience.
`

const ignoredBody = `Hello,

Your email address %s is not allowed to transfer emails to the document management system.
If this transfer is legitimate, please contact your internal referent.

The related mail is attached.

Client ID : %s
IMAP login : %s
mail id : %d
`

const summaryBody = `Client ID : %s
IMAP login : %s

%d emails have been imported. %d emails are unsupported. %d emails have caused an error. %d emails are ignored.
`

// Sender delivers a fully assembled mail to its envelope recipients.
type Sender interface {
	Send(from string, to []string, message []byte) error
}

type Mailer struct {
	sender Sender

	clientID  string
	imapLogin string
	from      string
	operator  string

	l *logrus.Logger
}

func NewMailer(sender Sender, clientID, imapLogin, from, operator string) *Mailer {
	return &Mailer{
		sender:    sender,
		clientID:  clientID,
		imapLogin: imapLogin,
		from:      from,
		operator:  operator,
		l:         log.Logger(log.LOG_NOTIFY),
	}
}

func (m *Mailer) NotifyException(mailID uint32, raw []byte, cause error) error {
	subject := fmt.Sprintf("Error handling an email for client %s", m.clientID)
	body := fmt.Sprintf(errorBody, m.clientID, m.imapLogin, mailID, cause)

	message, err := buildMail(m.from, m.operator, subject, body, raw)
	if err != nil {
		return err
	}

	m.l.WithFields(logrus.Fields{"mail": mailID, "to": m.operator}).Info("Sending exception notification")
	return m.sender.Send(m.from, []string{m.operator}, message)
}

func (m *Mailer) NotifyUnsupportedOrigin(raw []byte, from string) error {
	subject := "Error importing your email"

	message, err := buildMail(m.from, from, subject, unsupportedOriginBody, raw)
	if err != nil {
		return err
	}

	m.l.WithField("to", from).Info("Sending unsupported origin notification")
	return m.sender.Send(m.from, []string{from}, message)
}

// NotifyIgnored tells the submitting agent the transfer was rejected. The
// operator receives a blind copy: part of the envelope, not of the headers.
func (m *Mailer) NotifyIgnored(mailID uint32, raw []byte, agent string) error {
	subject := fmt.Sprintf("Unauthorized transfer from %s for client %s", agent, m.clientID)
	body := fmt.Sprintf(ignoredBody, agent, m.clientID, m.imapLogin, mailID)

	message, err := buildMail(m.from, agent, subject, body, raw)
	if err != nil {
		return err
	}

	m.l.WithFields(logrus.Fields{"mail": mailID, "to": agent}).Info("Sending ignored sender notification")
	return m.sender.Send(m.from, []string{agent, m.operator}, message)
}

func (m *Mailer) NotifySummary(summary *domain.Summary) error {
	subject := fmt.Sprintf("Result of process_mails for client %s", m.clientID)
	body := fmt.Sprintf(summaryBody, m.clientID, m.imapLogin,
		summary.Imported, summary.Unsupported, summary.Errors, summary.Ignored)

	message, err := buildMail(m.from, m.operator, subject, body, nil)
	if err != nil {
		return err
	}

	m.l.WithField("to", m.operator).Info("Sending run summary")
	return m.sender.Send(m.from, []string{m.operator}, message)
}

func buildMail(from, to, subject, body string, attachedRaw []byte) ([]byte, error) {
	buffer := &bytes.Buffer{}

	header := mail.Header{}
	header.SetDate(time.Now())
	header.SetAddressList("From", []*mail.Address{{Address: from}})
	header.SetAddressList("To", []*mail.Address{{Address: to}})
	header.SetSubject(subject)

	mailWriter, err := mail.CreateWriter(buffer, header)
	if err != nil {
		return nil, fmt.Errorf("could not create mail writer: %w", err)
	}

	textPart, err := mailWriter.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("could not create mail text part: %w", err)
	}
	inlineHeader := mail.InlineHeader{}
	inlineHeader.Set("Content-Type", "text/plain; charset=utf-8")
	textPartWriter, err := textPart.CreatePart(inlineHeader)
	if err != nil {
		return nil, fmt.Errorf("could not create text part: %w", err)
	}
	_, err = io.WriteString(textPartWriter, body)
	if err != nil {
		return nil, fmt.Errorf("could not write text part: %w", err)
	}
	err = textPartWriter.Close()
	if err != nil {
		return nil, fmt.Errorf("could not close text part writer: %w", err)
	}
	err = textPart.Close()
	if err != nil {
		return nil, fmt.Errorf("could not close text part: %w", err)
	}

	if attachedRaw != nil {
		attachmentHeader := mail.AttachmentHeader{}
		attachmentHeader.Set("Content-Type", "message/rfc822")
		attachmentHeader.Set("Content-Description", "original message")
		attachmentHeader.Set("Content-Transfer-Encoding", "binary")
		attachmentHeader.SetFilename("original-mail.eml")
		attachmentWriter, err := mailWriter.CreateAttachment(attachmentHeader)
		if err != nil {
			return nil, fmt.Errorf("could not create attachment part: %w", err)
		}
		_, err = attachmentWriter.Write(attachedRaw)
		if err != nil {
			return nil, fmt.Errorf("could not write attachment: %w", err)
		}
		err = attachmentWriter.Close()
		if err != nil {
			return nil, fmt.Errorf("could not close attachment writer: %w", err)
		}
	}

	err = mailWriter.Close()
	if err != nil {
		return nil, fmt.Errorf("could not close mail writer: %w", err)
	}

	return buffer.Bytes(), nil
}
