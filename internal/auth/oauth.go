package auth

import (
	"time"

	"golang.org/x/oauth2"

	"strava-ingest/internal/store"
)

const (
	// Strava OAuth endpoints
	AuthURL  = "https://www.strava.com/oauth/authorize"
	TokenURL = "https://www.strava.com/oauth/token"
)

// Scopes required for our app (Strava uses comma-separated scopes)
var Scopes = []string{
	"read,activity:read_all",
}

// Config holds the OAuth client credentials
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string // e.g., "https://ingest.example.com/callback"
	TokenURL     string // defaults to TokenURL
}

// NewOAuthConfig creates an oauth2.Config from our Config
func NewOAuthConfig(cfg Config) *oauth2.Config {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = TokenURL
	}
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  AuthURL,
			TokenURL: tokenURL,
			// Strava only accepts client credentials in the form body
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: cfg.RedirectURL,
		Scopes:      Scopes,
	}
}

// ExtractAthleteID extracts the athlete ID from the token extras
// Strava includes athlete info in the token response
func ExtractAthleteID(token *oauth2.Token) int64 {
	if athlete, ok := token.Extra("athlete").(map[string]interface{}); ok {
		if id, ok := athlete["id"].(float64); ok {
			return int64(id)
		}
	}
	return 0
}

// credentialFromToken builds the stored record for a token response.
// Names are only present on the initial code exchange.
func credentialFromToken(athleteID int64, token *oauth2.Token) *store.Credential {
	c := &store.Credential{
		AthleteID:    athleteID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    tokenExpiry(token),
	}
	if athlete, ok := token.Extra("athlete").(map[string]interface{}); ok {
		c.FirstName, _ = athlete["firstname"].(string)
		c.LastName, _ = athlete["lastname"].(string)
	}
	if scope, ok := token.Extra("scope").(string); ok {
		c.Scope = scope
	}
	return c
}

// tokenExpiry prefers Strava's absolute expires_at over the computed expiry
func tokenExpiry(token *oauth2.Token) time.Time {
	if at, ok := token.Extra("expires_at").(float64); ok && at > 0 {
		return time.Unix(int64(at), 0)
	}
	return token.Expiry
}

func maskToken(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:8] + "..." + token[len(token)-4:]
}
