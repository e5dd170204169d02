// Package email defines the core email data model shared by the dispatch
// endpoint, the relay providers and the local sink.
package email

// Email represents one outbound (or captured) email message.
type Email struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	RawHeaders  map[string][]string
	MessageID   string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Credentials is the sender account used to authenticate against the relay.
// It is supplied per batch and never stored.
type Credentials struct {
	EmailID     string
	AppPassword string
}

// Complete reports whether both the email ID and the app password are set.
func (c Credentials) Complete() bool {
	return c.EmailID != "" && c.AppPassword != ""
}

// String redacts the app password so credentials can be logged safely.
func (c Credentials) String() string {
	if c.AppPassword == "" {
		return c.EmailID
	}
	return c.EmailID + ":****"
}
