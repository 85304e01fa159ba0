package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// AuthTimeout is how long a login started at /connect stays valid
const AuthTimeout = 5 * time.Minute

const (
	stravaStateCookie = "strava_oauth_state"
	driveStateCookie  = "drive_oauth_state"
)

// TokenSaver persists the delegated Google token obtained at /drive/callback
type TokenSaver interface {
	SaveToken(ctx context.Context, token *oauth2.Token) error
}

// Flow serves the browser side of the Strava and Google authorizations
type Flow struct {
	strava     *oauth2.Config
	creds      *CredentialStore
	drive      *oauth2.Config // nil when delegated Drive access isn't configured
	driveSaver TokenSaver
	httpClient *http.Client
}

// NewFlow creates the login handlers. drive and saver may be nil.
func NewFlow(strava *oauth2.Config, creds *CredentialStore, drive *oauth2.Config, saver TokenSaver, timeout time.Duration) *Flow {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Flow{
		strava:     strava,
		creds:      creds,
		drive:      drive,
		driveSaver: saver,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Register mounts the login routes on mux
func (f *Flow) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /connect", f.handleConnect)
	mux.HandleFunc("GET /callback", f.handleCallback)
	mux.HandleFunc("GET /drive/connect", f.handleDriveConnect)
	mux.HandleFunc("GET /drive/callback", f.handleDriveCallback)
}

func (f *Flow) handleConnect(w http.ResponseWriter, r *http.Request) {
	state, err := startState(w, stravaStateCookie, "/callback")
	if err != nil {
		http.Error(w, "Could not start login", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, f.strava.AuthCodeURL(state, oauth2.AccessTypeOffline), http.StatusFound)
}

func (f *Flow) handleCallback(w http.ResponseWriter, r *http.Request) {
	code, ok := checkCallback(w, r, stravaStateCookie, "/callback")
	if !ok {
		return
	}

	ctx := context.WithValue(r.Context(), oauth2.HTTPClient, f.httpClient)
	token, err := f.strava.Exchange(ctx, code)
	if err != nil {
		log.Printf("[AUTH] Strava code exchange failed: %v", err)
		http.Error(w, "Token exchange failed", http.StatusBadGateway)
		return
	}

	athleteID := ExtractAthleteID(token)
	if athleteID == 0 {
		log.Printf("[AUTH] Strava token response carried no athlete")
		http.Error(w, "Token response carried no athlete", http.StatusBadGateway)
		return
	}

	cred := credentialFromToken(athleteID, token)
	if scope := r.URL.Query().Get("scope"); scope != "" {
		cred.Scope = scope
	}
	if err := f.creds.upsert(r.Context(), cred); err != nil {
		log.Printf("[ERROR] %v", err)
		http.Error(w, "Could not store credential", http.StatusInternalServerError)
		return
	}

	log.Printf("[AUTH] Connected athlete %d (%s)", athleteID, cred.DisplayName())
	writeSuccess(w, "Strava is connected. New activities will be ingested automatically.")
}

func (f *Flow) handleDriveConnect(w http.ResponseWriter, r *http.Request) {
	if f.drive == nil || f.driveSaver == nil {
		http.Error(w, "Google Drive delegation is not configured", http.StatusNotFound)
		return
	}
	state, err := startState(w, driveStateCookie, "/drive/callback")
	if err != nil {
		http.Error(w, "Could not start login", http.StatusInternalServerError)
		return
	}
	// Force consent so Google always hands out a refresh token
	http.Redirect(w, r, f.drive.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), http.StatusFound)
}

func (f *Flow) handleDriveCallback(w http.ResponseWriter, r *http.Request) {
	if f.drive == nil || f.driveSaver == nil {
		http.Error(w, "Google Drive delegation is not configured", http.StatusNotFound)
		return
	}
	code, ok := checkCallback(w, r, driveStateCookie, "/drive/callback")
	if !ok {
		return
	}

	ctx := context.WithValue(r.Context(), oauth2.HTTPClient, f.httpClient)
	token, err := f.drive.Exchange(ctx, code)
	if err != nil {
		log.Printf("[DRIVE] Code exchange failed: %v", err)
		http.Error(w, "Token exchange failed", http.StatusBadGateway)
		return
	}
	if err := f.driveSaver.SaveToken(r.Context(), token); err != nil {
		log.Printf("[ERROR] Saving Drive token: %v", err)
		http.Error(w, "Could not store Drive token", http.StatusInternalServerError)
		return
	}

	log.Printf("[DRIVE] Delegated Drive access connected")
	writeSuccess(w, "Google Drive is connected. Stream files will be uploaded to your folder.")
}

// startState generates a state value and remembers it in a cookie scoped
// to the callback path
func startState(w http.ResponseWriter, cookie, path string) (string, error) {
	state, err := generateState()
	if err != nil {
		log.Printf("[ERROR] generating state: %v", err)
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookie,
		Value:    state,
		Path:     path,
		MaxAge:   int(AuthTimeout.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return state, nil
}

// checkCallback validates state and returns the authorization code.
// It writes the error response itself when validation fails.
func checkCallback(w http.ResponseWriter, r *http.Request, cookie, path string) (string, bool) {
	c, err := r.Cookie(cookie)
	state := r.URL.Query().Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(c.Value), []byte(state)) != 1 {
		http.Error(w, "State mismatch", http.StatusBadRequest)
		return "", false
	}
	// One use only
	http.SetCookie(w, &http.Cookie{Name: cookie, Path: path, MaxAge: -1})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		log.Printf("[AUTH] Authorization denied: %s", errMsg)
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return "", false
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "No authorization code", http.StatusBadRequest)
		return "", false
	}
	return code, true
}

func writeSuccess(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Authentication Successful</title></head>
<body style="font-family: system-ui; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0;">
<div style="text-align: center;">
<h1 style="color: #10B981;">Success!</h1>
<p>%s</p>
</div>
</body>
</html>`, message)
}

// generateState creates a random state string for CSRF protection
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
