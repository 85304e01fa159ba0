package remote

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// ServiceAccount uploads with the application's own Google identity.
// The key comes from inline JSON or a file; the file can be reloaded.
type ServiceAccount struct {
	key        []byte
	keyFile    string
	folderID   string
	httpClient *http.Client
	endpoint   string // Drive API override for tests

	mu  sync.RWMutex
	srv *drive.Service
	err error
}

// NewServiceAccount creates the provider and loads the key once.
// With neither key nor keyFile it stays unconfigured.
func NewServiceAccount(key []byte, keyFile, folderID string, timeout time.Duration) *ServiceAccount {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	s := &ServiceAccount{
		key:        key,
		keyFile:    keyFile,
		folderID:   folderID,
		httpClient: &http.Client{Timeout: timeout},
	}
	if s.Configured() {
		if err := s.Reload(); err != nil {
			log.Printf("[DRIVE] Service account unavailable: %v", err)
		}
	}
	return s
}

func (s *ServiceAccount) Mechanism() Mechanism { return MechanismServiceAccount }

// Configured reports whether a key source was given
func (s *ServiceAccount) Configured() bool {
	return len(s.key) > 0 || s.keyFile != ""
}

// KeyFile returns the watched key path, if any
func (s *ServiceAccount) KeyFile() string {
	return s.keyFile
}

// Reload rebuilds the Drive service from the key source. On failure the
// previous service is dropped so uploads report the error.
func (s *ServiceAccount) Reload() error {
	srv, err := s.build()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.srv, s.err = srv, err
	return err
}

func (s *ServiceAccount) build() (*drive.Service, error) {
	key := s.key
	if len(key) == 0 {
		var err error
		key, err = os.ReadFile(s.keyFile)
		if err != nil {
			return nil, fmt.Errorf("reading service account key: %w", err)
		}
		log.Printf("[DRIVE] Using service account from %s", s.keyFile)
	}

	config, err := google.JWTConfigFromJSON(key, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse service account key: %w", err)
	}

	// The service outlives any request, so its token source gets a background context
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.httpClient)
	opts := []option.ClientOption{option.WithHTTPClient(config.Client(ctx))}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create drive service: %w", err)
	}
	return srv, nil
}

// Upload implements Provider
func (s *ServiceAccount) Upload(ctx context.Context, name string, content []byte) (*File, error) {
	s.mu.RLock()
	srv, loadErr := s.srv, s.err
	s.mu.RUnlock()

	if srv == nil {
		if loadErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotConfigured, loadErr)
		}
		return nil, ErrNotConfigured
	}
	return createFile(ctx, srv, s.folderID, name, content)
}
