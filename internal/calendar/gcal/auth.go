package gcal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcalendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	appLog "celcal/internal/log"
)

// Scope only grants access to events, not to calendar settings.
const Scope = gcalendar.CalendarEventsScope

// NewService builds a Calendar API service from credentialsPath, which is
// either a service account key or an OAuth client secret. In the latter
// case the token cached at tokenPath is used and refreshed tokens are
// written back.
func NewService(ctx context.Context, credentialsPath, tokenPath string) (*gcalendar.Service, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var kind struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &kind); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	if kind.Type == "service_account" {
		creds, err := google.CredentialsFromJSON(ctx, data, Scope)
		if err != nil {
			return nil, fmt.Errorf("service account credentials: %w", err)
		}
		return gcalendar.NewService(ctx, option.WithCredentials(creds))
	}

	conf, err := google.ConfigFromJSON(data, Scope)
	if err != nil {
		return nil, fmt.Errorf("oauth client credentials: %w", err)
	}
	store := NewTokenStore(tokenPath)
	token, err := store.Get()
	if err != nil {
		return nil, fmt.Errorf("no usable oauth token at %s (run celcal -auth first): %w", tokenPath, err)
	}

	src := &savingTokenSource{
		base:  oauth2.ReuseTokenSource(token, conf.TokenSource(ctx, token)),
		store: store,
		last:  token.AccessToken,
	}
	return gcalendar.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, src)))
}

// Authorize runs the interactive OAuth consent flow: it prints the consent
// URL to out, reads the authorization code from in and caches the token.
func Authorize(ctx context.Context, credentialsPath, tokenPath string, in io.Reader, out io.Writer) error {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	conf, err := google.ConfigFromJSON(data, Scope)
	if err != nil {
		return fmt.Errorf("oauth client credentials: %w", err)
	}
	if conf.RedirectURL == "" {
		conf.RedirectURL = "http://localhost"
	}

	state := uuid.NewString()
	fmt.Fprintf(out, "Open this URL, grant access, then paste the \"code\" parameter of the page you are redirected to:\n\n%s\n\ncode: ",
		conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce))

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return err
		}
		return errors.New("no authorization code provided")
	}
	code := strings.TrimSpace(scanner.Text())
	if code == "" {
		return errors.New("no authorization code provided")
	}

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	return NewTokenStore(tokenPath).Save(token)
}

// TokenStore persists an OAuth token as JSON.
type TokenStore struct {
	fileName string
}

func NewTokenStore(fileName string) *TokenStore {
	return &TokenStore{fileName: fileName}
}

func (s *TokenStore) Save(token *oauth2.Token) error {
	b, err := json.Marshal(token)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.fileName), 0o700); err != nil {
		return err
	}
	tmp := s.fileName + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.fileName)
}

func (s *TokenStore) Get() (*oauth2.Token, error) {
	b, err := os.ReadFile(s.fileName)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(b, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, errors.New("token file holds no token")
	}
	return &token, nil
}

// savingTokenSource writes refreshed tokens back to the store.
type savingTokenSource struct {
	base  oauth2.TokenSource
	store *TokenStore

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		s.last = token.AccessToken
		if err := s.store.Save(token); err != nil {
			appLog.Error("failed to persist refreshed oauth token", err, "path", s.store.fileName)
		}
	}
	return token, nil
}
