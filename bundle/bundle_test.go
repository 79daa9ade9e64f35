// SPDX-License-Identifier: GPL-3.0-or-later
package bundle

import (
	"archive/tar"
	"bytes"
	"testing"

	"github.com/dmsbridge/go-mail-dms/domain"

	"github.com/stretchr/testify/assert"
)

func TestBuildRoundTrip(t *testing.T) {
	pdf := []byte("%PDF-1.4 fake")
	headers := &domain.MailHeaders{All: map[string]string{"subj": "x"}}
	attachments := []*domain.Attachment{
		{Filename: "a.txt", Content: []byte("hi")},
	}

	archive, err := Build(pdf, ".pdf", headers, attachments)
	assert.NoError(t, err)

	entries, err := Extract(archive)
	assert.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, pdf, entries["email.pdf"])
	assert.JSONEq(t, `{"subj":"x"}`, string(entries["metadata.json"]))
	assert.Equal(t, []byte("hi"), entries["attachments/a.txt"])
}

func TestBuildEmlFallback(t *testing.T) {
	raw := []byte("From: a@example.com\r\n\r\nbody")
	headers := &domain.MailHeaders{All: map[string]string{"Subject": "s"}}

	archive, err := Build(raw, ".eml", headers, nil)
	assert.NoError(t, err)

	entries, err := Extract(archive)
	assert.NoError(t, err)
	assert.Equal(t, raw, entries["email.eml"])
	_, hasPdf := entries["email.pdf"]
	assert.False(t, hasPdf)
}

func TestBuildEntryOrder(t *testing.T) {
	headers := &domain.MailHeaders{All: map[string]string{}}
	attachments := []*domain.Attachment{
		{Filename: "z.bin", Content: []byte{1}},
		{Filename: "a.bin", Content: []byte{2}},
		{Filename: "m.bin", Content: []byte{3}},
	}

	archive, err := Build([]byte("doc"), ".pdf", headers, attachments)
	assert.NoError(t, err)

	// Attachment order in the archive follows input order, not name order.
	names := []string{}
	r := tar.NewReader(bytes.NewReader(archive))
	for {
		header, err := r.Next()
		if err != nil {
			break
		}
		names = append(names, header.Name)
	}
	assert.Equal(t, []string{"email.pdf", "metadata.json", "attachments/z.bin", "attachments/a.bin", "attachments/m.bin"}, names)
}

func TestBuildRejectsUnknownExtension(t *testing.T) {
	_, err := Build([]byte("doc"), ".docx", &domain.MailHeaders{}, nil)
	assert.EqualError(t, err, `unsupported primary document extension ".docx"`)
}

func TestBuildExactSizes(t *testing.T) {
	content := bytes.Repeat([]byte{0xAB}, 1234)
	headers := &domain.MailHeaders{All: map[string]string{"k": "v"}}

	archive, err := Build([]byte("doc"), ".pdf", headers, []*domain.Attachment{{Filename: "blob", Content: content}})
	assert.NoError(t, err)

	r := tar.NewReader(bytes.NewReader(archive))
	for {
		header, err := r.Next()
		if err != nil {
			break
		}
		if header.Name == "attachments/blob" {
			assert.Equal(t, int64(1234), header.Size)
		}
	}
}
