package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCredentials(t *testing.T) {
	db := NewTestDB(t)
	ctx := context.Background()
	expiry := time.Now().Add(6 * time.Hour).Truncate(time.Second)

	t.Run("GetCredential returns ErrCredentialNotFound for unknown athlete", func(t *testing.T) {
		_, err := db.GetCredential(ctx, 42)
		if !errors.Is(err, ErrCredentialNotFound) {
			t.Fatalf("GetCredential() error = %v, want ErrCredentialNotFound", err)
		}
	})

	t.Run("UpsertCredential inserts new record", func(t *testing.T) {
		err := db.UpsertCredential(ctx, &Credential{
			AthleteID:    42,
			FirstName:    "Ada",
			LastName:     "Runner",
			AccessToken:  "access-1",
			RefreshToken: "refresh-1",
			ExpiresAt:    expiry,
			Scope:        "read,activity:read_all",
		})
		if err != nil {
			t.Fatalf("UpsertCredential() error = %v", err)
		}

		got, err := db.GetCredential(ctx, 42)
		if err != nil {
			t.Fatalf("GetCredential() error = %v", err)
		}
		if got.AccessToken != "access-1" {
			t.Errorf("AccessToken = %q, want access-1", got.AccessToken)
		}
		if !got.ExpiresAt.Equal(expiry) {
			t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, expiry)
		}
		if got.DisplayName() != "Ada Runner" {
			t.Errorf("DisplayName() = %q, want %q", got.DisplayName(), "Ada Runner")
		}
	})

	t.Run("UpsertCredential is idempotent", func(t *testing.T) {
		cred := &Credential{
			AthleteID:    42,
			FirstName:    "Ada",
			LastName:     "Runner",
			AccessToken:  "access-2",
			RefreshToken: "refresh-2",
			ExpiresAt:    expiry,
		}
		for i := 0; i < 2; i++ {
			if err := db.UpsertCredential(ctx, cred); err != nil {
				t.Fatalf("UpsertCredential() #%d error = %v", i, err)
			}
		}

		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM credentials WHERE athlete_id = 42").Scan(&count); err != nil {
			t.Fatalf("counting rows: %v", err)
		}
		if count != 1 {
			t.Errorf("row count = %d, want 1", count)
		}

		got, err := db.GetCredential(ctx, 42)
		if err != nil {
			t.Fatalf("GetCredential() error = %v", err)
		}
		if got.AccessToken != "access-2" || got.RefreshToken != "refresh-2" {
			t.Errorf("tokens = %q/%q, want access-2/refresh-2", got.AccessToken, got.RefreshToken)
		}
	})

	t.Run("UpsertCredential rejects empty refresh token", func(t *testing.T) {
		err := db.UpsertCredential(ctx, &Credential{AthleteID: 7, AccessToken: "a", ExpiresAt: expiry})
		if !errors.Is(err, ErrInvalidCredential) {
			t.Fatalf("UpsertCredential() error = %v, want ErrInvalidCredential", err)
		}
	})

	t.Run("UpdateTokens replaces tokens and keeps names", func(t *testing.T) {
		newExpiry := expiry.Add(time.Hour)
		if err := db.UpdateTokens(ctx, 42, "access-3", "refresh-3", newExpiry); err != nil {
			t.Fatalf("UpdateTokens() error = %v", err)
		}
		got, err := db.GetCredential(ctx, 42)
		if err != nil {
			t.Fatalf("GetCredential() error = %v", err)
		}
		if got.AccessToken != "access-3" || got.RefreshToken != "refresh-3" {
			t.Errorf("tokens = %q/%q, want access-3/refresh-3", got.AccessToken, got.RefreshToken)
		}
		if got.FirstName != "Ada" {
			t.Errorf("FirstName = %q, want Ada", got.FirstName)
		}
		if !got.ExpiresAt.Equal(newExpiry) {
			t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, newExpiry)
		}
	})

	t.Run("UpdateTokens on unknown athlete", func(t *testing.T) {
		err := db.UpdateTokens(ctx, 999, "a", "r", expiry)
		if !errors.Is(err, ErrCredentialNotFound) {
			t.Fatalf("UpdateTokens() error = %v, want ErrCredentialNotFound", err)
		}
	})

	t.Run("ListCredentialsExpiringBefore", func(t *testing.T) {
		soon := time.Now().Add(10 * time.Minute)
		if err := db.UpsertCredential(ctx, &Credential{
			AthleteID: 7, AccessToken: "a7", RefreshToken: "r7", ExpiresAt: soon,
		}); err != nil {
			t.Fatalf("UpsertCredential() error = %v", err)
		}

		creds, err := db.ListCredentialsExpiringBefore(ctx, time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("ListCredentialsExpiringBefore() error = %v", err)
		}
		if len(creds) != 1 || creds[0].AthleteID != 7 {
			t.Errorf("got %+v, want only athlete 7", creds)
		}
	})
}

func TestRebind(t *testing.T) {
	tests := []struct {
		name    string
		dialect dialect
		query   string
		want    string
	}{
		{"sqlite untouched", sqliteDialect, "SELECT a FROM t WHERE x = ? AND y = ?", "SELECT a FROM t WHERE x = ? AND y = ?"},
		{"postgres numbered", postgresDialect, "SELECT a FROM t WHERE x = ? AND y = ?", "SELECT a FROM t WHERE x = $1 AND y = $2"},
		{"postgres no params", postgresDialect, "SELECT 1", "SELECT 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &DB{dialect: tt.dialect}
			if got := db.rebind(tt.query); got != tt.want {
				t.Errorf("rebind() = %q, want %q", got, tt.want)
			}
		})
	}
}
