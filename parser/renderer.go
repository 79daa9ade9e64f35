// SPDX-License-Identifier: GPL-3.0-or-later
package parser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// RenderError reports a failed pdf rendering. It is recovered locally by
// falling back to the raw mail as primary document and never surfaces as a
// message-level error.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("could not render pdf: %v", e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

type Renderer interface {
	Render(html []byte) ([]byte, error)
}

// CommandRenderer shells out to an html-to-pdf converter such as
// wkhtmltopdf, invoked as `command input.html output.pdf`.
type CommandRenderer struct {
	Command string
}

func (r *CommandRenderer) Render(html []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "mail-dms-render")
	if err != nil {
		return nil, fmt.Errorf("could not create render directory: %w", err)
	}
	defer os.RemoveAll(dir)

	htmlPath := filepath.Join(dir, "mail.html")
	pdfPath := filepath.Join(dir, "mail.pdf")
	err = os.WriteFile(htmlPath, html, 0600)
	if err != nil {
		return nil, fmt.Errorf("could not write render input: %w", err)
	}

	cmd := exec.Command(r.Command, htmlPath, pdfPath)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("could not run %s: %w (%s)", r.Command, err, string(output))
	}

	pdf, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("could not read render output: %w", err)
	}

	return pdf, nil
}
