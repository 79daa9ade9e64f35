// SPDX-License-Identifier: GPL-3.0-or-later
package domain

//go:generate mockgen -destination=mocks/upload.go -package=mocks . Uploader

// Uploader delivers a bundle to the document management webservice. The
// implementation reserves a sequence value, registers metadata, uploads the
// archive and commits the sequence value only after both calls succeeded.
// Upload returns the external id the bundle was registered under.
type Uploader interface {
	Upload(bundle []byte, mailID uint32) (string, error)
}
