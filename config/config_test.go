// SPDX-License-Identifier: GPL-3.0-or-later
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const validConfig = `
ImapHost = "imap.example.com:993"
ImapUser = "import@example.com"
ImapPassword = "secret"
ClientID = "019Z"
CounterDir = "/var/lib/mail-dms"
WebserviceURL = "https://dms.example.com:443"
WebserviceVersion = "1.5"
WebserviceUser = "ws"
WebservicePassword = "wspass"
SmtpHost = "smtp.example.com:25"
SmtpSender = "noreply@example.com"
SmtpRecipient = "operator@example.com"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	err := os.WriteFile(path, []byte(content), 0600)
	assert.NoError(t, err)
	return path
}

func TestReadConfig(t *testing.T) {
	conf, err := ReadConfig(writeConfig(t, validConfig))
	assert.NoError(t, err)
	assert.Equal(t, "imap.example.com:993", conf.ImapHost)
	assert.Equal(t, "019Z", conf.ClientID)
	assert.True(t, conf.ImapTLS)
	assert.Equal(t, ".+", conf.SenderPattern)
	assert.Equal(t, "wkhtmltopdf", conf.PdfCommand)
}

func TestReadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		old     string
		replace string
		err     string
	}{
		{"nohost", `ImapHost = "imap.example.com:993"`, `ImapHost = ""`, "ImapHost must not be empty, set to host:port of the imap server"},
		{"noclient", `ClientID = "019Z"`, `ClientID = " "`, "ClientID must not be empty, set to the client identifier agreed with the dms webservice"},
		{"nocounterdir", `CounterDir = "/var/lib/mail-dms"`, `CounterDir = ""`, "CounterDir must not be empty, set to a writable directory for the run lock and sequence counter"},
		{"badurl", `WebserviceURL = "https://dms.example.com:443"`, `WebserviceURL = "dms.example.com"`, "WebserviceURL must start with http:// or https://"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			content := strings.Replace(validConfig, tc.old, tc.replace, 1)
			conf, err := ReadConfig(writeConfig(t, content))
			assert.Nil(t, conf)
			assert.EqualError(t, err, tc.err)
		})
	}
}

func TestReadConfigBadPattern(t *testing.T) {
	conf, err := ReadConfig(writeConfig(t, validConfig+"\nSenderPattern = \"([\"\n"))
	assert.Nil(t, conf)
	assert.Error(t, err)
}
