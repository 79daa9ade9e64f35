// SPDX-License-Identifier: GPL-3.0-or-later
package notify

import (
	"fmt"
	"net/smtp"
)

// SMTPSender delivers notification mails over a plain SMTP session. The
// notification relay usually sits on the local network, authentication and
// TLS are left to it.
type SMTPSender struct {
	Host string
}

func (s *SMTPSender) Send(from string, to []string, message []byte) error {
	err := smtp.SendMail(s.Host, nil, from, to, message)
	if err != nil {
		return fmt.Errorf("could not send notification via %s: %w", s.Host, err)
	}

	return nil
}
