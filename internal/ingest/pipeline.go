package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"strava-ingest/internal/auth"
	"strava-ingest/internal/store"
	"strava-ingest/internal/strava"
)

// Job is one accepted activity notification
type Job struct {
	DeliveryID string
	AthleteID  int64
	ActivityID int64
	ReceivedAt time.Time
}

// TokenResolver hands out access tokens per athlete
type TokenResolver interface {
	Resolve(ctx context.Context, athleteID int64) (string, error)
}

// StreamFetcher retrieves an activity's streams
type StreamFetcher interface {
	GetActivityStreams(ctx context.Context, accessToken string, activityID int64, channels []strava.Channel) (strava.StreamBundle, error)
}

// RateBudget is implemented by fetchers that track Strava's rate windows
type RateBudget interface {
	RateLimitStatus() (shortRemaining, dailyRemaining int)
}

// EventRecorder stores the outcome of each job
type EventRecorder interface {
	RecordIngestEvent(ctx context.Context, e *store.IngestEvent) error
}

// Pipeline runs resolve, fetch, align and persist for one job
type Pipeline struct {
	creds    TokenResolver
	fetcher  StreamFetcher
	sink     *Sink
	events   EventRecorder
	channels []strava.Channel
}

// NewPipeline creates a pipeline. events may be nil.
func NewPipeline(creds TokenResolver, fetcher StreamFetcher, sink *Sink, events EventRecorder) *Pipeline {
	return &Pipeline{
		creds:    creds,
		fetcher:  fetcher,
		sink:     sink,
		events:   events,
		channels: strava.DefaultChannels,
	}
}

// Process ingests one activity. Each failure ends the job for this delivery;
// nothing is retried.
func (p *Pipeline) Process(ctx context.Context, job Job) (*Result, error) {
	result, err := p.process(ctx, job)
	p.record(ctx, job, result, err)

	switch {
	case err == nil:
		log.Printf("[INGEST] %s: athlete %d activity %d stored at %s (remote: %s, rate budget %s)",
			job.DeliveryID, job.AthleteID, job.ActivityID, result.LocalPath, mechanismLabel(string(result.Mechanism)), p.budgetLabel())
	case errors.Is(err, ErrWriteFailed):
		log.Printf("[ERROR] %s: athlete %d activity %d: %v", job.DeliveryID, job.AthleteID, job.ActivityID, err)
	default:
		log.Printf("[INGEST] %s: athlete %d activity %d not ingested: %v", job.DeliveryID, job.AthleteID, job.ActivityID, err)
	}
	return result, err
}

func (p *Pipeline) process(ctx context.Context, job Job) (*Result, error) {
	token, err := p.creds.Resolve(ctx, job.AthleteID)
	if err != nil {
		return nil, err
	}

	bundle, err := p.fetcher.GetActivityStreams(ctx, token, job.ActivityID, p.channels)
	if err != nil {
		return nil, fmt.Errorf("fetching streams for activity %d: %w", job.ActivityID, err)
	}

	table, err := Align(bundle)
	if err != nil {
		return nil, fmt.Errorf("activity %d: %w", job.ActivityID, err)
	}

	return p.sink.Persist(ctx, job.AthleteID, job.ActivityID, table)
}

func (p *Pipeline) record(ctx context.Context, job Job, result *Result, err error) {
	if p.events == nil {
		return
	}

	e := &store.IngestEvent{
		DeliveryID: job.DeliveryID,
		AthleteID:  job.AthleteID,
		ActivityID: job.ActivityID,
		Status:     Classify(err),
		ReceivedAt: job.ReceivedAt,
		FinishedAt: time.Now(),
	}
	if result != nil {
		e.LocalPath = result.LocalPath
		e.RemoteID = result.RemoteID
		e.Mechanism = string(result.Mechanism)
	}
	if err != nil {
		e.Error = err.Error()
	}

	// The job context may already be past its deadline
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := p.events.RecordIngestEvent(recordCtx, e); rerr != nil {
		log.Printf("[ERROR] Recording ingest event %s: %v", job.DeliveryID, rerr)
	}
}

// Classify maps a pipeline error to its stored status
func Classify(err error) store.IngestStatus {
	switch {
	case err == nil:
		return store.IngestStored
	case errors.Is(err, auth.ErrUnknownUser):
		return store.IngestUnknownUser
	case errors.Is(err, auth.ErrCredentialRefreshFailed):
		return store.IngestRefreshFailed
	case errors.Is(err, strava.ErrFetchFailed):
		return store.IngestFetchFailed
	case errors.Is(err, ErrEmptyBundle):
		return store.IngestEmptyBundle
	case errors.Is(err, ErrWriteFailed):
		return store.IngestWriteFailed
	default:
		return store.IngestFailed
	}
}

// budgetLabel reports the remaining 15-minute and daily requests
func (p *Pipeline) budgetLabel() string {
	rb, ok := p.fetcher.(RateBudget)
	if !ok {
		return "n/a"
	}
	short, daily := rb.RateLimitStatus()
	return fmt.Sprintf("%d/%d", short, daily)
}

func mechanismLabel(m string) string {
	if m == "" {
		return "none"
	}
	return m
}
