package models

import "strings"

// Provider identifies a known mail service
type Provider string

const (
	ProviderGmail  Provider = "gmail"
	ProviderYandex Provider = "yandex"
	ProviderMailRu Provider = "mailru"
)

const imapsPort = "993"

var providerHosts = map[Provider]string{
	ProviderGmail:  "imap.gmail.com",
	ProviderYandex: "imap.yandex.com",
	ProviderMailRu: "imap.mail.ru",
}

// DefaultProvider is used for unrecognized provider kinds
const DefaultProvider = ProviderGmail

// Host returns the IMAP hostname for the provider, falling back to the default provider
func (p Provider) Host() string {
	if host, ok := providerHosts[Provider(strings.ToLower(string(p)))]; ok {
		return host
	}
	return providerHosts[DefaultProvider]
}

// Account identifies a remote mailbox. The sync core only reads it.
type Account struct {
	Email    string
	Password string
	Provider Provider
	Mailbox  string
	Server   string
}

// Endpoint resolves the host:port to dial for this account
func (a Account) Endpoint() string {
	if a.Server != "" {
		return a.Server
	}
	return a.Provider.Host() + ":" + imapsPort
}

// MailboxName returns the mailbox to select, INBOX when unset
func (a Account) MailboxName() string {
	if a.Mailbox == "" {
		return "INBOX"
	}
	return a.Mailbox
}
