// SPDX-License-Identifier: GPL-3.0-or-later

// Package bundle assembles the archive delivered to the dms webservice.
// The layout is a compatibility surface: one primary document named
// email.pdf or email.eml, one metadata.json entry and one entry per
// attachment under attachments/, in the order the attachments were given.
package bundle

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dmsbridge/go-mail-dms/domain"
)

// Build assembles an uncompressed tar archive in memory. ext is the
// extension of the primary document including the dot (".pdf" or ".eml").
func Build(primary []byte, ext string, headers *domain.MailHeaders, attachments []*domain.Attachment) ([]byte, error) {
	if ext != ".pdf" && ext != ".eml" {
		return nil, fmt.Errorf("unsupported primary document extension %q", ext)
	}

	metadata, err := json.Marshal(headers.All)
	if err != nil {
		return nil, fmt.Errorf("could not encode metadata: %w", err)
	}

	buf := &bytes.Buffer{}
	w := tar.NewWriter(buf)

	err = addEntry(w, "email"+ext, primary)
	if err != nil {
		return nil, err
	}

	err = addEntry(w, "metadata.json", metadata)
	if err != nil {
		return nil, err
	}

	for _, attachment := range attachments {
		err = addEntry(w, "attachments/"+attachment.Filename, attachment.Content)
		if err != nil {
			return nil, err
		}
	}

	err = w.Close()
	if err != nil {
		return nil, fmt.Errorf("could not finish archive: %w", err)
	}

	return buf.Bytes(), nil
}

func addEntry(w *tar.Writer, name string, content []byte) error {
	err := w.WriteHeader(&tar.Header{
		Name: name,
		Mode: 0644,
		Size: int64(len(content)),
	})
	if err != nil {
		return fmt.Errorf("could not write header for %s: %w", name, err)
	}

	_, err = w.Write(content)
	if err != nil {
		return fmt.Errorf("could not write entry %s: %w", name, err)
	}

	return nil
}

// Extract reads an archive back into a name to content map, preserving
// entry names exactly as stored.
func Extract(archive []byte) (map[string][]byte, error) {
	entries := map[string][]byte{}
	r := tar.NewReader(bytes.NewReader(archive))
	for {
		header, err := r.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("could not read archive: %w", err)
		}

		content, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("could not read entry %s: %w", header.Name, err)
		}
		entries[header.Name] = content
	}
}
