// SPDX-License-Identifier: GPL-3.0-or-later

// Package parser analyzes the structure of submitted mails. A proper
// submission wraps the origin mail as a message/rfc822 attachment; anything
// else is classified as coming from a generic inbox. All header text leaves
// this package as valid UTF-8, invalid bytes replaced.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"strings"

	"github.com/dmsbridge/go-mail-dms/domain"
	"github.com/dmsbridge/go-mail-dms/log"

	"github.com/jhillyerd/enmime"
	"github.com/sirupsen/logrus"
)

type Parser struct {
	renderer Renderer
	l        *logrus.Logger
}

func NewParser(renderer Renderer) *Parser {
	return &Parser{
		renderer: renderer,
		l:        log.Logger(log.LOG_PARSER),
	}
}

func (p *Parser) Parse(raw []byte) (*domain.ParsedMail, error) {
	outer, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("could not parse mail: %w", err)
	}

	agent := firstAddress(outer, "From")

	wrapped := findWrappedMessage(outer)
	if wrapped == nil {
		headers := extractHeaders(outer, agent)
		p.l.WithFields(logrus.Fields{"from": headers.From.Address, "subject": headers.Subject}).Debug("Mail was not forwarded as attachment")
		return &domain.ParsedMail{
			OriginType: domain.OriginGenericInbox,
			Headers:    headers,
			Origin:     raw,
		}, nil
	}

	inner, err := enmime.ReadEnvelope(bytes.NewReader(wrapped.Content))
	if err != nil {
		return nil, fmt.Errorf("could not parse wrapped mail: %w", err)
	}

	headers := extractHeaders(inner, agent)
	p.l.WithFields(logrus.Fields{"agent": agent.Address, "from": headers.From.Address, "subject": headers.Subject}).Debug("Unwrapped forwarded mail")
	return &domain.ParsedMail{
		OriginType: domain.OriginForwarded,
		Headers:    headers,
		Origin:     wrapped.Content,
	}, nil
}

func findWrappedMessage(env *enmime.Envelope) *enmime.Part {
	if env.Root == nil {
		return nil
	}
	return env.Root.BreadthMatchFirst(func(part *enmime.Part) bool {
		return part.ContentType == "message/rfc822"
	})
}

func extractHeaders(env *enmime.Envelope, agent domain.Address) *domain.MailHeaders {
	from := firstAddress(env, "From")
	headers := &domain.MailHeaders{
		From:    from,
		Agent:   agent,
		Subject: safeText(env.GetHeader("Subject")),
		Date:    safeText(env.GetHeader("Date")),
		All:     map[string]string{},
	}

	for _, name := range []string{"From", "To", "Cc", "Subject", "Date", "Message-Id", "Reply-To"} {
		value := env.GetHeader(name)
		if value == "" {
			continue
		}
		headers.All[name] = safeText(value)
	}
	headers.All["Agent"] = agent.Address

	return headers
}

func firstAddress(env *enmime.Envelope, header string) domain.Address {
	list, err := env.AddressList(header)
	if err != nil || len(list) == 0 {
		return domain.Address{Address: safeText(env.GetHeader(header))}
	}
	return domain.Address{
		Name:    safeText(list[0].Name),
		Address: safeText(list[0].Address),
	}
}

// safeText is the single text-decoding policy of the pipeline: header
// values already decoded by enmime are forced to valid UTF-8 here, with
// the replacement rune for anything broken.
func safeText(value string) string {
	return strings.ToValidUTF8(value, "�")
}

// RenderPDF produces a PDF printout of the origin mail. Inline images
// referenced by content id are embedded as data uris before rendering and
// reported back as consumed.
func (p *Parser) RenderPDF(origin []byte) ([]byte, map[string]bool, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(origin))
	if err != nil {
		return nil, nil, &RenderError{Err: fmt.Errorf("could not parse origin mail: %w", err)}
	}

	content := env.HTML
	if content == "" {
		content = "<pre>" + html.EscapeString(env.Text) + "</pre>"
	}

	usedCids := map[string]bool{}
	for _, part := range env.Inlines {
		if part.ContentID == "" || !strings.HasPrefix(part.ContentType, "image/") {
			continue
		}
		ref := "cid:" + part.ContentID
		if !strings.Contains(content, ref) {
			continue
		}
		uri := "data:" + part.ContentType + ";base64," + base64.StdEncoding.EncodeToString(part.Content)
		content = strings.ReplaceAll(content, ref, uri)
		usedCids[part.ContentID] = true
	}

	document := "<html><head><meta charset=\"utf-8\"><title>" + html.EscapeString(safeText(env.GetHeader("Subject"))) + "</title></head><body>" + content + "</body></html>"
	pdf, err := p.renderer.Render([]byte(document))
	if err != nil {
		return nil, nil, &RenderError{Err: err}
	}

	p.l.WithFields(logrus.Fields{"size": len(pdf), "inlined": len(usedCids)}).Debug("Rendered pdf")
	return pdf, usedCids, nil
}

// Attachments lists the attachment files of the origin mail with their
// dispositions. Inline parts consumed by a generated pdf are excluded;
// everything else passes through with its original bytes.
func (p *Parser) Attachments(origin []byte, pdfGenerated bool, usedCids map[string]bool) ([]*domain.Attachment, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(origin))
	if err != nil {
		return nil, fmt.Errorf("could not parse origin mail: %w", err)
	}

	attachments := []*domain.Attachment{}
	add := func(part *enmime.Part, disposition string) {
		attachments = append(attachments, &domain.Attachment{
			Filename:    attachmentName(part),
			ContentType: part.ContentType,
			Disposition: disposition,
			Size:        len(part.Content),
			Content:     part.Content,
		})
	}

	for _, part := range env.Attachments {
		add(part, "attachment")
	}
	for _, part := range env.Inlines {
		if pdfGenerated && part.ContentID != "" && usedCids[part.ContentID] {
			continue
		}
		if part.FileName == "" && part.ContentID == "" {
			// Inline text alternatives are part of the body, not files.
			continue
		}
		add(part, "inline")
	}
	for _, part := range env.OtherParts {
		if part.ContentType == "message/rfc822" {
			continue
		}
		add(part, "attachment")
	}

	return attachments, nil
}

func attachmentName(part *enmime.Part) string {
	if part.FileName != "" {
		return safeText(part.FileName)
	}
	if part.ContentID != "" {
		return safeText(part.ContentID)
	}
	return "part-" + part.PartID
}
