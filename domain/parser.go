// SPDX-License-Identifier: GPL-3.0-or-later
package domain

//go:generate mockgen -destination=mocks/parser.go -package=mocks . Parser

type Origin string

const (
	// OriginForwarded means the mail was submitted correctly, as a
	// message/rfc822 attachment wrapping the origin mail.
	OriginForwarded = Origin("forwarded")
	// OriginGenericInbox means the mail was sent directly to the import
	// address instead of being forwarded as an attachment.
	OriginGenericInbox = Origin("generic inbox")
)

type Address struct {
	Name    string
	Address string
}

// MailHeaders are the structured headers of the origin mail. Agent is the
// From address of the outer envelope, i.e. the person who submitted the
// mail to the import address.
type MailHeaders struct {
	From    Address
	Agent   Address
	Subject string
	Date    string
	All     map[string]string
}

type Attachment struct {
	Filename    string
	ContentType string
	Disposition string
	Size        int
	Content     []byte
}

// ParsedMail is the outcome of structural analysis of one raw message.
// For a forwarded mail, Origin holds the bytes of the wrapped message and
// Headers describe it; for a generic-inbox mail, Origin equals the outer
// message.
type ParsedMail struct {
	OriginType Origin
	Headers    *MailHeaders
	Origin     []byte
}

type Parser interface {
	Parse(raw []byte) (*ParsedMail, error)

	// RenderPDF produces a PDF printout of the origin mail together with
	// the set of inline content ids that were embedded into the document.
	RenderPDF(origin []byte) ([]byte, map[string]bool, error)

	// Attachments lists the retained attachment files of the origin mail.
	// Inline images whose content id is in usedCids are already visible in
	// the rendered document and are skipped when pdfGenerated is true.
	Attachments(origin []byte, pdfGenerated bool, usedCids map[string]bool) ([]*Attachment, error)
}
