package store

import "time"

// Credential holds the Strava OAuth tokens for one athlete
type Credential struct {
	AthleteID    int64     `db:"athlete_id"`
	FirstName    string    `db:"firstname"`
	LastName     string    `db:"lastname"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresAt    time.Time `db:"expires_at"`
	Scope        string    `db:"scope"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// DisplayName returns "First Last", trimmed
func (c *Credential) DisplayName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	default:
		return c.FirstName + " " + c.LastName
	}
}

// IngestStatus is the terminal outcome of one ingest job
type IngestStatus string

const (
	IngestStored        IngestStatus = "stored"
	IngestUnknownUser   IngestStatus = "unknown_user"
	IngestRefreshFailed IngestStatus = "refresh_failed"
	IngestFetchFailed   IngestStatus = "fetch_failed"
	IngestEmptyBundle   IngestStatus = "empty_bundle"
	IngestWriteFailed   IngestStatus = "write_failed"
	IngestFailed        IngestStatus = "failed" // anything not classified above
)

// IngestEvent records what happened to one accepted webhook event
type IngestEvent struct {
	ID         int64        `db:"id"`
	DeliveryID string       `db:"delivery_id"`
	AthleteID  int64        `db:"athlete_id"`
	ActivityID int64        `db:"activity_id"`
	Status     IngestStatus `db:"status"`
	LocalPath  string       `db:"local_path"`
	RemoteID   string       `db:"remote_id"`
	Mechanism  string       `db:"mechanism"` // "delegated", "service_account" or empty
	Error      string       `db:"error"`
	ReceivedAt time.Time    `db:"received_at"`
	FinishedAt time.Time    `db:"finished_at"`
}
