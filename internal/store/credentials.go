package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const credentialColumns = `athlete_id, firstname, lastname, access_token, refresh_token, expires_at, scope, updated_at`

// GetCredential retrieves the stored tokens for an athlete
func (db *DB) GetCredential(ctx context.Context, athleteID int64) (*Credential, error) {
	row := db.QueryRowContext(ctx, db.rebind(`
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE athlete_id = ?
	`), athleteID)

	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// UpsertCredential stores or replaces the full record for an athlete.
// Repeating the call with identical data leaves the record unchanged.
func (db *DB) UpsertCredential(ctx context.Context, c *Credential) error {
	if c.AthleteID == 0 {
		return fmt.Errorf("%w: athlete id is required", ErrInvalidCredential)
	}
	if c.RefreshToken == "" {
		return fmt.Errorf("%w: refresh token is empty", ErrInvalidCredential)
	}

	now := time.Now().Unix()
	_, err := db.ExecContext(ctx, db.rebind(`
		INSERT INTO credentials (athlete_id, firstname, lastname, access_token, refresh_token, expires_at, scope, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(athlete_id) DO UPDATE SET
			firstname = excluded.firstname,
			lastname = excluded.lastname,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			scope = excluded.scope,
			updated_at = excluded.updated_at
	`), c.AthleteID, c.FirstName, c.LastName, c.AccessToken, c.RefreshToken,
		c.ExpiresAt.Unix(), c.Scope, now, now)
	return err
}

// UpdateTokens replaces just the token fields for an existing athlete
func (db *DB) UpdateTokens(ctx context.Context, athleteID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	if refreshToken == "" {
		return fmt.Errorf("%w: refresh token is empty", ErrInvalidCredential)
	}

	result, err := db.ExecContext(ctx, db.rebind(`
		UPDATE credentials
		SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
		WHERE athlete_id = ?
	`), accessToken, refreshToken, expiresAt.Unix(), time.Now().Unix(), athleteID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrCredentialNotFound
	}
	return nil
}

// ListCredentialsExpiringBefore returns credentials whose access token
// expires before t, soonest first
func (db *DB) ListCredentialsExpiringBefore(ctx context.Context, t time.Time) ([]Credential, error) {
	rows, err := db.QueryContext(ctx, db.rebind(`
		SELECT `+credentialColumns+`
		FROM credentials
		WHERE expires_at < ?
		ORDER BY expires_at
	`), t.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *c)
	}
	return creds, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*Credential, error) {
	var c Credential
	var expiresAt, updatedAt int64
	err := row.Scan(&c.AthleteID, &c.FirstName, &c.LastName, &c.AccessToken,
		&c.RefreshToken, &expiresAt, &c.Scope, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.ExpiresAt = time.Unix(expiresAt, 0)
	c.UpdatedAt = time.Unix(updatedAt, 0)
	return &c, nil
}
