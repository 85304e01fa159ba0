package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"strava-ingest/internal/store"
)

// RefreshMargin is how close to expiry a stored access token may get
// before Resolve refreshes it
const RefreshMargin = 120 * time.Second

var (
	ErrUnknownUser             = errors.New("no credential for athlete")
	ErrCredentialRefreshFailed = errors.New("credential refresh failed")
)

// CredentialStore hands out valid Strava access tokens per athlete,
// refreshing and persisting them as needed
type CredentialStore struct {
	db         *store.DB
	config     *oauth2.Config
	httpClient *http.Client
	now        func() time.Time

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewCredentialStore creates a store backed by db. Token endpoint calls use
// a client with the given timeout.
func NewCredentialStore(db *store.DB, cfg *oauth2.Config, timeout time.Duration) *CredentialStore {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CredentialStore{
		db:         db,
		config:     cfg,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
		locks:      make(map[int64]*sync.Mutex),
	}
}

// Resolve returns a usable access token for the athlete. A refreshed token
// is persisted before it is returned.
func (s *CredentialStore) Resolve(ctx context.Context, athleteID int64) (string, error) {
	cred, err := s.load(ctx, athleteID)
	if err != nil {
		return "", err
	}
	if !s.expiring(cred, RefreshMargin) {
		return cred.AccessToken, nil
	}

	cred, err = s.refreshIf(ctx, athleteID, func(c *store.Credential) bool {
		return s.expiring(c, RefreshMargin)
	})
	if err != nil {
		return "", err
	}
	return cred.AccessToken, nil
}

// Upsert stores the token returned by an authorization code exchange
func (s *CredentialStore) Upsert(ctx context.Context, athleteID int64, token *oauth2.Token) error {
	return s.upsert(ctx, credentialFromToken(athleteID, token))
}

func (s *CredentialStore) upsert(ctx context.Context, c *store.Credential) error {
	if !c.ExpiresAt.After(s.now()) {
		return fmt.Errorf("%w: token for athlete %d has no future expiry", store.ErrInvalidCredential, c.AthleteID)
	}

	lock := s.lockFor(c.AthleteID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.db.UpsertCredential(ctx, c); err != nil {
		return fmt.Errorf("storing credential for athlete %d: %w", c.AthleteID, err)
	}
	return nil
}

// RefreshExpiring refreshes every credential that expires within window.
// It returns how many were refreshed; individual failures are joined.
func (s *CredentialStore) RefreshExpiring(ctx context.Context, window time.Duration) (int, error) {
	creds, err := s.db.ListCredentialsExpiringBefore(ctx, s.now().Add(window))
	if err != nil {
		return 0, fmt.Errorf("listing expiring credentials: %w", err)
	}

	var errs []error
	refreshed := 0
	for _, c := range creds {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		before := c.AccessToken
		got, err := s.refreshIf(ctx, c.AthleteID, func(c *store.Credential) bool {
			return s.expiring(c, window)
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if got.AccessToken != before {
			refreshed++
		}
	}
	return refreshed, errors.Join(errs...)
}

// refreshIf serializes refresh-and-persist for one athlete. The record is
// re-read under the lock so a refresh finished by another caller is reused.
func (s *CredentialStore) refreshIf(ctx context.Context, athleteID int64, stale func(*store.Credential) bool) (*store.Credential, error) {
	lock := s.lockFor(athleteID)
	lock.Lock()
	defer lock.Unlock()

	cred, err := s.load(ctx, athleteID)
	if err != nil {
		return nil, err
	}
	if !stale(cred) {
		return cred, nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	src := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	token, err := src.Token()
	if err != nil {
		log.Printf("[AUTH] Refresh failed for athlete %d: %v", athleteID, err)
		return nil, fmt.Errorf("%w: athlete %d: %w", ErrCredentialRefreshFailed, athleteID, err)
	}

	cred.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		cred.RefreshToken = token.RefreshToken
	}
	cred.ExpiresAt = tokenExpiry(token)
	if !cred.ExpiresAt.After(s.now()) {
		log.Printf("[AUTH] Refresh for athlete %d returned no future expiry", athleteID)
		return nil, fmt.Errorf("%w: athlete %d: token has no future expiry", ErrCredentialRefreshFailed, athleteID)
	}

	if err := s.db.UpdateTokens(ctx, athleteID, cred.AccessToken, cred.RefreshToken, cred.ExpiresAt); err != nil {
		log.Printf("[ERROR] Persisting refreshed token for athlete %d: %v", athleteID, err)
		return nil, fmt.Errorf("%w: persisting athlete %d: %w", ErrCredentialRefreshFailed, athleteID, err)
	}

	log.Printf("[AUTH] Refreshed token for athlete %d (%s, expires %s)",
		athleteID, maskToken(cred.AccessToken), cred.ExpiresAt.Format(time.RFC3339))
	return cred, nil
}

func (s *CredentialStore) load(ctx context.Context, athleteID int64) (*store.Credential, error) {
	cred, err := s.db.GetCredential(ctx, athleteID)
	if errors.Is(err, store.ErrCredentialNotFound) {
		return nil, fmt.Errorf("%w %d: %w", ErrUnknownUser, athleteID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential for athlete %d: %w", athleteID, err)
	}
	return cred, nil
}

func (s *CredentialStore) expiring(c *store.Credential, margin time.Duration) bool {
	return c.ExpiresAt.Sub(s.now()) <= margin
}

func (s *CredentialStore) lockFor(athleteID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[athleteID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[athleteID] = lock
	}
	return lock
}
