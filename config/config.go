// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ImapHost     string
	ImapTLS      bool
	ImapUser     string
	ImapPassword string

	ClientID   string
	CounterDir string

	// Database is optional. When set, the sequence counter and the import
	// journal live in this sqlite file instead of plain counter files.
	Database string

	WebserviceURL      string
	WebserviceVersion  string
	WebserviceUser     string
	WebservicePassword string

	SmtpHost      string
	SmtpSender    string
	SmtpRecipient string

	// SenderPattern is matched case-insensitively against the submitting
	// agent address. Mails from non-matching agents are ignored.
	SenderPattern string

	PdfCommand string
	OutputDir  string

	Loglevel *string
}

func ReadConfig(filename string) (*Config, error) {
	config := &Config{
		ImapTLS:       true,
		SenderPattern: ".+",
		PdfCommand:    "wkhtmltopdf",
		OutputDir:     os.TempDir(),
	}

	_, err := toml.DecodeFile(filename, config)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}

	err = config.validate()
	if err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	if err := validateNonEmptyStringField(c.ImapHost, "ImapHost must not be empty, set to host:port of the imap server"); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(c.ImapUser, "ImapUser must not be empty, set to login on the imap server"); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(c.ImapPassword, "ImapPassword must not be empty, set to password of ImapUser on the imap server"); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(c.ClientID, "ClientID must not be empty, set to the client identifier agreed with the dms webservice"); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(c.CounterDir, "CounterDir must not be empty, set to a writable directory for the run lock and sequence counter"); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(c.WebserviceURL, "WebserviceURL must not be empty, set to the base url of the dms webservice"); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(c.WebserviceVersion, "WebserviceVersion must not be empty, set to the dms webservice protocol version"); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(c.SmtpHost, "SmtpHost must not be empty, set to host:port of the smtp server used for notifications"); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(c.SmtpSender, "SmtpSender must not be empty, set to the sender address for notifications"); err != nil {
		return err
	}

	if err := validateNonEmptyStringField(c.SmtpRecipient, "SmtpRecipient must not be empty, set to the operator address for notifications"); err != nil {
		return err
	}

	if !strings.HasPrefix(c.WebserviceURL, "http://") && !strings.HasPrefix(c.WebserviceURL, "https://") {
		return fmt.Errorf("WebserviceURL must start with http:// or https://")
	}

	if _, err := regexp.Compile("(?i)" + c.SenderPattern); err != nil {
		return fmt.Errorf("SenderPattern is not a valid regular expression: %w", err)
	}

	return nil
}

func validateNonEmptyStringField(field string, err string) error {
	if len(strings.TrimSpace(field)) == 0 {
		return errors.New(err)
	}

	return nil
}
