// SPDX-License-Identifier: GPL-3.0-or-later

// Package processor runs one processing pass over the import mailbox. Every
// waiting mail ends the pass in exactly one of four outcomes: imported,
// unsupported, ignored or error. A failing mail never aborts the pass.
package processor

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dmsbridge/go-mail-dms/bundle"
	"github.com/dmsbridge/go-mail-dms/domain"
	"github.com/dmsbridge/go-mail-dms/images"
	"github.com/dmsbridge/go-mail-dms/log"
	"github.com/dmsbridge/go-mail-dms/parser"

	"github.com/sirupsen/logrus"
)

const (
	// Images above this size are recompressed before bundling.
	ImageSizeThreshold  = 100000
	ImageDimensionLimit = 1024
	ImageQuality        = 75

	// A recompressed image replaces the original only when it saves at
	// least a tenth of the size.
	imageKeepRatio = 0.9
)

type MailProcessor struct {
	mailbox  domain.Mailbox
	parser   domain.Parser
	uploader domain.Uploader
	notifier domain.Notifier

	configuration *configuration

	l *logrus.Logger
}

func NewMailProcessor(mailbox domain.Mailbox, mailParser domain.Parser, uploader domain.Uploader, notifier domain.Notifier, configFunc ...ConfigFunc) (*MailProcessor, error) {
	config := &configuration{}
	for _, f := range configFunc {
		err := f(config)
		if err != nil {
			return nil, fmt.Errorf("error applying configuration: %w", err)
		}
	}

	return &MailProcessor{
		mailbox:       mailbox,
		parser:        mailParser,
		uploader:      uploader,
		notifier:      notifier,
		configuration: config,
		l:             log.Logger(log.LOG_PROCESSOR),
	}, nil
}

// ProcessAll fetches every waiting mail and processes each one to a terminal
// outcome. Per-mail failures are reported and flagged but do not abort the
// pass; the returned summary counts all four outcomes.
func (mp *MailProcessor) ProcessAll() (*domain.Summary, error) {
	mails, err := mp.mailbox.FetchWaiting()
	if err != nil {
		return nil, fmt.Errorf("could not fetch waiting mails: %w", err)
	}

	summary := &domain.Summary{}
	for _, m := range mails {
		switch mp.processOne(m) {
		case domain.OutcomeImported:
			summary.Imported++
		case domain.OutcomeUnsupported:
			summary.Unsupported++
		case domain.OutcomeIgnored:
			summary.Ignored++
		case domain.OutcomeError:
			summary.Errors++
		}
	}

	mp.l.WithFields(logrus.Fields{
		"imported":    summary.Imported,
		"unsupported": summary.Unsupported,
		"ignored":     summary.Ignored,
		"errors":      summary.Errors,
	}).Info("Finished processing pass")

	if len(mails) > 0 {
		err = mp.notifier.NotifySummary(summary)
		if err != nil {
			mp.l.WithField("error", err).Warn("Could not send summary notification")
		}
	}

	return summary, nil
}

func (mp *MailProcessor) processOne(m *domain.Mail) string {
	parsed, err := mp.parser.Parse(m.Raw)
	if err != nil {
		return mp.fail(m, "", fmt.Errorf("could not parse mail: %w", err))
	}

	if parsed.OriginType == domain.OriginGenericInbox {
		return mp.rejectUnsupported(m, parsed)
	}

	agent := parsed.Headers.Agent.Address
	if mp.configuration.SenderPattern != nil && !mp.configuration.SenderPattern.MatchString(agent) {
		return mp.ignore(m, parsed, agent)
	}

	primary, ext, usedCids := mp.renderPrimary(m.ID, parsed)

	attachments, err := mp.parser.Attachments(parsed.Origin, ext == ".pdf", usedCids)
	if err != nil {
		return mp.fail(m, parsed.Headers.Subject, fmt.Errorf("could not extract attachments: %w", err))
	}
	attachments = mp.prepareAttachments(attachments)

	archive, err := bundle.Build(primary, ext, parsed.Headers, attachments)
	if err != nil {
		return mp.fail(m, parsed.Headers.Subject, fmt.Errorf("could not build bundle: %w", err))
	}

	externalID, err := mp.uploader.Upload(archive, m.ID)
	if err != nil {
		return mp.fail(m, parsed.Headers.Subject, err)
	}

	err = mp.mailbox.MarkImported(m.ID)
	if err != nil {
		return mp.fail(m, parsed.Headers.Subject, fmt.Errorf("could not mark mail as imported: %w", err))
	}

	mp.l.WithFields(logrus.Fields{"mail": m.ID, "externalid": externalID, "attachments": len(attachments)}).Info("Imported mail")
	mp.journal(&domain.JournalEntry{
		MailID:     m.ID,
		Subject:    parsed.Headers.Subject,
		Outcome:    domain.OutcomeImported,
		ExternalID: externalID,
	})
	return domain.OutcomeImported
}

func (mp *MailProcessor) rejectUnsupported(m *domain.Mail, parsed *domain.ParsedMail) string {
	mp.l.WithFields(logrus.Fields{"mail": m.ID, "from": parsed.Headers.From.Address}).Info("Mail was not forwarded as attachment, rejecting")

	err := mp.notifier.NotifyUnsupportedOrigin(m.Raw, parsed.Headers.From.Address)
	if err != nil {
		mp.l.WithFields(logrus.Fields{"mail": m.ID, "error": err}).Warn("Could not notify sender about unsupported mail")
	}

	err = mp.mailbox.MarkUnsupported(m.ID)
	if err != nil {
		return mp.fail(m, parsed.Headers.Subject, fmt.Errorf("could not mark mail as unsupported: %w", err))
	}

	mp.journal(&domain.JournalEntry{
		MailID:  m.ID,
		Subject: parsed.Headers.Subject,
		Outcome: domain.OutcomeUnsupported,
	})
	return domain.OutcomeUnsupported
}

// ignore leaves the mail's flags untouched: it stays waiting and will be
// picked up again once the sender pattern admits its agent.
func (mp *MailProcessor) ignore(m *domain.Mail, parsed *domain.ParsedMail, agent string) string {
	mp.l.WithFields(logrus.Fields{"mail": m.ID, "agent": agent}).Info("Agent does not match sender pattern, ignoring mail")

	err := mp.notifier.NotifyIgnored(m.ID, m.Raw, agent)
	if err != nil {
		mp.l.WithFields(logrus.Fields{"mail": m.ID, "error": err}).Warn("Could not notify about ignored mail")
	}

	mp.journal(&domain.JournalEntry{
		MailID:  m.ID,
		Subject: parsed.Headers.Subject,
		Outcome: domain.OutcomeIgnored,
		Detail:  agent,
	})
	return domain.OutcomeIgnored
}

// renderPrimary produces the bundle's primary document. When the printout
// fails, the raw origin message itself becomes the primary document and the
// mail is still imported.
func (mp *MailProcessor) renderPrimary(mailID uint32, parsed *domain.ParsedMail) (primary []byte, ext string, usedCids map[string]bool) {
	pdf, usedCids, err := mp.parser.RenderPDF(parsed.Origin)
	if err != nil {
		var renderErr *parser.RenderError
		if errors.As(err, &renderErr) {
			mp.l.WithFields(logrus.Fields{"mail": mailID, "error": err}).Warn("Could not render mail to pdf, bundling raw message instead")
			return parsed.Origin, ".eml", nil
		}
		mp.l.WithFields(logrus.Fields{"mail": mailID, "error": err}).Warn("Unexpected pdf failure, bundling raw message instead")
		return parsed.Origin, ".eml", nil
	}

	return pdf, ".pdf", usedCids
}

// prepareAttachments applies the bundle rules to the attachment list:
// inline images never ship (they belong to the mail body, rendered or not),
// and large images are recompressed when that actually saves space.
func (mp *MailProcessor) prepareAttachments(attachments []*domain.Attachment) []*domain.Attachment {
	kept := make([]*domain.Attachment, 0, len(attachments))
	for _, att := range attachments {
		isImage := strings.HasPrefix(att.ContentType, "image/")
		if isImage && att.Disposition == "inline" {
			mp.l.WithField("attachment", att.Filename).Debug("Dropping inline image from bundle")
			continue
		}
		kept = append(kept, att)

		if !isImage || att.Size <= ImageSizeThreshold {
			continue
		}

		reduced, err := images.Reencode(att.Content, ImageDimensionLimit, ImageQuality)
		if err != nil {
			mp.l.WithFields(logrus.Fields{"attachment": att.Filename, "error": err}).Debug("Could not recompress image, keeping original")
			continue
		}

		if float64(len(reduced)) >= imageKeepRatio*float64(len(att.Content)) {
			continue
		}

		mp.l.WithFields(logrus.Fields{"attachment": att.Filename, "before": len(att.Content), "after": len(reduced)}).Debug("Recompressed image attachment")
		att.Content = reduced
		att.Size = len(reduced)
		att.Filename = resizedName(att.Filename)
	}

	return kept
}

// fail is the per-mail error boundary: report the failure to the operator,
// flag the mail and move on to the next one.
func (mp *MailProcessor) fail(m *domain.Mail, subject string, cause error) string {
	mp.l.WithFields(logrus.Fields{"mail": m.ID, "error": cause}).Error("Could not process mail")

	err := mp.notifier.NotifyException(m.ID, m.Raw, cause)
	if err != nil {
		mp.l.WithFields(logrus.Fields{"mail": m.ID, "error": err}).Warn("Could not send exception notification")
	}

	err = mp.mailbox.MarkError(m.ID)
	if err != nil {
		mp.l.WithFields(logrus.Fields{"mail": m.ID, "error": err}).Error("Could not mark mail as errored")
	}

	mp.journal(&domain.JournalEntry{
		MailID:  m.ID,
		Subject: subject,
		Outcome: domain.OutcomeError,
		Detail:  cause.Error(),
	})
	return domain.OutcomeError
}

func (mp *MailProcessor) journal(entry *domain.JournalEntry) {
	if mp.configuration.Journal == nil {
		return
	}

	err := mp.configuration.Journal.Record(entry)
	if err != nil {
		mp.l.WithFields(logrus.Fields{"mail": entry.MailID, "error": err}).Warn("Could not journal mail outcome")
	}
}

func resizedName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + " (resized)" + ext
}
