// SPDX-License-Identifier: GPL-3.0-or-later

// Package upload implements the two-phase exchange with the dms
// webservice: metadata registration followed by the archive upload. The
// sequence value backing the external id is committed only after both
// phases succeeded, so a failed upload loses at most one reservation and
// never produces a duplicate external id.
package upload

import (
	"bytes"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/dmsbridge/go-mail-dms/domain"
	"github.com/dmsbridge/go-mail-dms/log"

	"github.com/sirupsen/logrus"
)

const UploadTimeout = 120 * time.Second

// Metadata is the registration payload of the first phase. Field names are
// part of the webservice wire contract.
type Metadata struct {
	ExternalID string `json:"external_id"`
	ClientID   string `json:"client_id"`
	ScanDate   string `json:"scan_date"`
	ScanHour   string `json:"scan_hour"`
	User       string `json:"user"`
	PC         string `json:"pc"`
	Creator    string `json:"creator"`
	Filesize   int    `json:"filesize"`
	Filename   string `json:"filename"`
	FileMD5    string `json:"filemd5"`
}

// MetadataError reports a rejected metadata registration. The outgoing
// metadata is kept for diagnostics.
type MetadataError struct {
	MailID   uint32
	Code     string
	Message  string
	Metadata *Metadata
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("mail %d: metadata rejected, code %q: %s (external id %s)", e.MailID, e.Code, e.Message, e.Metadata.ExternalID)
}

// UploadError reports a rejected archive upload.
type UploadError struct {
	MailID  uint32
	Code    string
	Message string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("mail %d: upload rejected, code %q: %s", e.MailID, e.Code, e.Message)
}

type response struct {
	Success   bool        `json:"success"`
	ID        json.Number `json:"id"`
	ErrorCode string      `json:"error_code"`
	Error     string      `json:"error"`
	Message   string      `json:"message"`
}

type Client struct {
	client *http.Client

	baseURL  string
	version  string
	user     string
	password string
	clientID string

	store domain.SequenceStore

	l *logrus.Logger
}

func NewClient(baseURL, version, user, password, clientID string, store domain.SequenceStore) *Client {
	return &Client{
		client: &http.Client{
			Timeout: UploadTimeout,
		},
		baseURL:  baseURL,
		version:  version,
		user:     user,
		password: password,
		clientID: clientID,
		store:    store,
		l:        log.Logger(log.LOG_UPLOAD),
	}
}

// ExternalID derives the client-scoped unique identifier from a sequence
// value: the client id followed by the value zero-padded to 8 digits.
func ExternalID(clientID string, value int64) string {
	return fmt.Sprintf("%s%08d", clientID, value)
}

// Upload registers the bundle's metadata, uploads the archive and commits
// the reserved sequence value. Any failure leaves the counter untouched.
// It returns the external id the bundle was registered under.
func (c *Client) Upload(archive []byte, mailID uint32) (string, error) {
	value, err := c.store.Reserve(c.clientID)
	if err != nil {
		return "", fmt.Errorf("could not reserve sequence value: %w", err)
	}

	externalID := ExternalID(c.clientID, value)
	now := time.Now()
	metadata := &Metadata{
		ExternalID: externalID,
		ClientID:   c.clientID,
		ScanDate:   now.Format("2006-01-02"),
		ScanHour:   now.Format("15:04:05"),
		User:       "testuser",
		PC:         "pc-scan01",
		Creator:    "scanner",
		Filesize:   len(archive),
		Filename:   externalID + ".tar",
		FileMD5:    fmt.Sprintf("%x", md5.Sum(archive)),
	}

	id, err := c.registerMetadata(metadata, mailID)
	if err != nil {
		return "", err
	}

	err = c.uploadArchive(archive, id, mailID)
	if err != nil {
		return "", err
	}

	err = c.store.Commit(c.clientID, value)
	if err != nil {
		return "", fmt.Errorf("could not commit sequence value: %w", err)
	}

	c.l.WithFields(logrus.Fields{"mail": mailID, "externalid": externalID, "size": len(archive)}).Info("Uploaded bundle")
	return externalID, nil
}

func (c *Client) registerMetadata(metadata *Metadata, mailID uint32) (string, error) {
	payload, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("could not encode metadata: %w", err)
	}

	url := fmt.Sprintf("%s/dms_metadata/%s/%s", c.baseURL, c.clientID, c.version)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("could not create metadata request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	parsed, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("could not register metadata: %w", err)
	}

	if !parsed.Success || parsed.ID == "" {
		return "", &MetadataError{
			MailID:   mailID,
			Code:     parsed.ErrorCode,
			Message:  errorMessage(parsed),
			Metadata: metadata,
		}
	}

	return parsed.ID.String(), nil
}

func (c *Client) uploadArchive(archive []byte, id string, mailID uint32) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="filedata"; filename="archive.tar"`)
	header.Set("Content-Type", "application/tar")
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("could not create multipart section: %w", err)
	}
	_, err = part.Write(archive)
	if err != nil {
		return fmt.Errorf("could not write archive to multipart section: %w", err)
	}
	err = writer.Close()
	if err != nil {
		return fmt.Errorf("could not finish multipart body: %w", err)
	}

	url := fmt.Sprintf("%s/file_upload/%s/%s", c.baseURL, c.version, id)
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("could not create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	parsed, err := c.do(req)
	if err != nil {
		return fmt.Errorf("could not upload archive: %w", err)
	}

	if !parsed.Success {
		return &UploadError{
			MailID:  mailID,
			Code:    parsed.ErrorCode,
			Message: errorMessage(parsed),
		}
	}

	return nil
}

func (c *Client) do(req *http.Request) (*response, error) {
	req.SetBasicAuth(c.user, c.password)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not send request to webservice: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read webservice response: %w", err)
	}

	parsed := &response{}
	err = json.Unmarshal(body, parsed)
	if err != nil {
		return nil, fmt.Errorf("could not deserialize webservice response: %w", err)
	}

	return parsed, nil
}

func errorMessage(parsed *response) string {
	if parsed.Error != "" {
		return parsed.Error
	}
	return parsed.Message
}
