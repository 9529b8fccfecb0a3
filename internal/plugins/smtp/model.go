// Package smtp provides outbound email for caregate. Relay settings come
// from the environment (see config.SMTPConfig); when no relay is configured
// a logging implementation stands in so development never needs a mail
// server.
package smtp

import (
	"fmt"
	"strings"

	"github.com/caregate/caregate/internal/config"
)

// Encryption modes accepted by Settings.Encryption.
const (
	EncryptionStartTLS = "starttls"
	EncryptionSSL      = "ssl"
	EncryptionNone     = "none"
)

// Settings is the relay configuration used by the SMTP service.
type Settings struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
	Encryption  string
}

// SettingsFromConfig normalizes the environment configuration.
func SettingsFromConfig(cfg config.SMTPConfig) Settings {
	s := Settings{
		Host:        strings.TrimSpace(cfg.Host),
		Port:        cfg.Port,
		Username:    strings.TrimSpace(cfg.Username),
		Password:    cfg.Password,
		FromAddress: strings.TrimSpace(cfg.FromAddress),
		FromName:    strings.TrimSpace(cfg.FromName),
		Encryption:  strings.ToLower(strings.TrimSpace(cfg.Encryption)),
	}
	if s.Port <= 0 {
		s.Port = 587
	}
	if s.FromName == "" {
		s.FromName = "caregate"
	}
	if s.Encryption == "" {
		s.Encryption = EncryptionStartTLS
	}
	return s
}

// Validate rejects settings that could never send mail.
func (s Settings) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("smtp host is not configured")
	}
	if s.FromAddress == "" {
		return fmt.Errorf("smtp from address is not configured")
	}
	switch s.Encryption {
	case EncryptionStartTLS, EncryptionSSL, EncryptionNone:
	default:
		return fmt.Errorf("unknown smtp encryption %q", s.Encryption)
	}
	return nil
}

func (s Settings) addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
