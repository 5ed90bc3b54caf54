// Package identity manages the rotating pool of sender identities.
package identity

import (
	"strings"
)

// Identity is one sender account. Credential is opaque to the engine; it is
// only ever handed to the transport.
type Identity struct {
	ID         string // the sender address, unique within the pool
	Credential string
	Host       string
	Port       int
	Enabled    bool
}

// smtpHosts maps well-known mail domains whose SMTP endpoint does not follow
// the smtp.<domain> convention.
var smtpHosts = map[string]string{
	"gmail.com":      "smtp.gmail.com",
	"googlemail.com": "smtp.gmail.com",
	"outlook.com":    "smtp-mail.outlook.com",
	"hotmail.com":    "smtp-mail.outlook.com",
	"live.com":       "smtp-mail.outlook.com",
	"yahoo.com":      "smtp.mail.yahoo.com",
	"icloud.com":     "smtp.mail.me.com",
	"me.com":         "smtp.mail.me.com",
}

const defaultSMTPPort = 587

// InferEndpoint fills Host/Port from the address domain when not set
// explicitly.
func (id *Identity) InferEndpoint() {
	if id.Port == 0 {
		id.Port = defaultSMTPPort
	}
	if id.Host != "" {
		return
	}
	at := strings.LastIndexByte(id.ID, '@')
	if at < 0 || at == len(id.ID)-1 {
		return
	}
	domain := strings.ToLower(id.ID[at+1:])
	if h, ok := smtpHosts[domain]; ok {
		id.Host = h
		return
	}
	id.Host = "smtp." + domain
}
