package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// TokenStateKey is the kv_state slot holding the delegated token blob
const TokenStateKey = "google_drive_token"

// StateStore is the slice of the store used for the token blob
type StateStore interface {
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	DeleteState(ctx context.Context, key string) error
}

// NewDelegatedConfig returns the OAuth config for user-delegated Drive access
func NewDelegatedConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
	}
}

// Delegated uploads with the token a user granted at /drive/connect.
// The token refreshes itself and the blob is rewritten when it changes.
type Delegated struct {
	config     *oauth2.Config
	state      StateStore
	folderID   string
	httpClient *http.Client
	endpoint   string // Drive API override for tests

	mu sync.Mutex
}

// NewDelegated creates the delegated provider. A nil config leaves it
// permanently unconfigured.
func NewDelegated(cfg *oauth2.Config, state StateStore, folderID string, timeout time.Duration) *Delegated {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Delegated{
		config:     cfg,
		state:      state,
		folderID:   folderID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (d *Delegated) Mechanism() Mechanism { return MechanismDelegated }

// SaveToken stores the token blob
func (d *Delegated) SaveToken(ctx context.Context, token *oauth2.Token) error {
	blob, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	return d.state.SetState(ctx, TokenStateKey, string(blob))
}

func (d *Delegated) loadToken(ctx context.Context) (*oauth2.Token, error) {
	blob, err := d.state.GetState(ctx, TokenStateKey)
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}
	if blob == "" {
		return nil, ErrNotConfigured
	}
	var token oauth2.Token
	if err := json.Unmarshal([]byte(blob), &token); err != nil {
		// Clear it so /drive/connect starts from an empty slot
		if derr := d.state.DeleteState(ctx, TokenStateKey); derr != nil {
			log.Printf("[DRIVE] Clearing unreadable token blob: %v", derr)
		}
		return nil, fmt.Errorf("%w: token blob is unreadable: %w", ErrNotConfigured, err)
	}
	return &token, nil
}

// Upload implements Provider
func (d *Delegated) Upload(ctx context.Context, name string, content []byte) (*File, error) {
	if d.config == nil {
		return nil, ErrNotConfigured
	}

	token, err := d.validToken(ctx)
	if err != nil {
		return nil, err
	}

	opts := []option.ClientOption{
		option.WithHTTPClient(oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, d.httpClient), oauth2.StaticTokenSource(token))),
	}
	if d.endpoint != "" {
		opts = append(opts, option.WithEndpoint(d.endpoint))
	}
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating drive service: %w", ErrUploadFailed, err)
	}
	return createFile(ctx, srv, d.folderID, name, content)
}

// validToken refreshes the stored token if needed and persists the result
func (d *Delegated) validToken(ctx context.Context) (*oauth2.Token, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	stored, err := d.loadToken(ctx)
	if err != nil {
		return nil, err
	}
	if stored.RefreshToken == "" && !stored.Valid() {
		return nil, fmt.Errorf("%w: delegated token expired and has no refresh token", ErrNotConfigured)
	}

	src := d.config.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, d.httpClient), stored)
	token, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refreshing delegated token: %w", ErrUploadFailed, err)
	}
	if token.AccessToken != stored.AccessToken {
		if err := d.SaveToken(ctx, token); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
		}
	}
	return token, nil
}
