package inbound

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// DefaultQuery narrows the mailbox to likely application mail from the last week.
const DefaultQuery = "subject:(application OR interview OR update OR offer OR unfortunately OR status OR applying) newer_than:7d"

// Mailbox lists recent messages.
type Mailbox interface {
	Recent(ctx context.Context, query string, max int64) ([]Email, error)
}

// GmailMailbox reads messages through the Gmail API with a read-only scope.
type GmailMailbox struct {
	svc  *gmail.Service
	user string
}

// LoadOAuthConfig parses a Google OAuth client secret file.
func LoadOAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}
	config, err := google.ConfigFromJSON(b, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file: %w", err)
	}
	return config, nil
}

// TokenFromFile loads a saved OAuth token.
func TokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("invalid token file %s: %w", path, err)
	}
	return tok, nil
}

// SaveToken writes tok to path with owner-only permissions.
func SaveToken(path string, tok *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(tok)
}

// NewGmailMailbox builds a mailbox from a client secret file and a previously
// saved token. Run the gmail-auth command once to create the token.
func NewGmailMailbox(ctx context.Context, credentialsFile, tokenFile string) (*GmailMailbox, error) {
	config, err := LoadOAuthConfig(credentialsFile)
	if err != nil {
		return nil, err
	}
	tok, err := TokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("gmail token not available (run gmail-auth first): %w", err)
	}
	return newGmailMailbox(ctx, config.Client(ctx, tok))
}

func newGmailMailbox(ctx context.Context, client *http.Client) (*GmailMailbox, error) {
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create gmail service: %w", err)
	}
	return &GmailMailbox{svc: svc, user: "me"}, nil
}

// Recent implements Mailbox. Messages are fetched with metadata only.
func (m *GmailMailbox) Recent(ctx context.Context, query string, max int64) ([]Email, error) {
	list, err := m.svc.Users.Messages.List(m.user).Q(query).MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	emails := make([]Email, 0, len(list.Messages))
	for _, ref := range list.Messages {
		msg, err := m.svc.Users.Messages.Get(m.user, ref.Id).
			Format("metadata").MetadataHeaders("From", "Subject").
			Context(ctx).Do()
		if err != nil {
			return emails, fmt.Errorf("failed to get message %s: %w", ref.Id, err)
		}
		emails = append(emails, toEmail(msg))
	}
	return emails, nil
}

func toEmail(msg *gmail.Message) Email {
	email := Email{
		ID:       msg.Id,
		Snippet:  msg.Snippet,
		Received: time.UnixMilli(msg.InternalDate).UTC(),
	}
	if msg.Payload == nil {
		return email
	}
	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "From":
			email.From = h.Value
		case "Subject":
			email.Subject = h.Value
		}
	}
	return email
}
