// Package webhook receives Strava push notifications.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"strava-ingest/internal/ingest"
	"strava-ingest/internal/strava"
)

const maxBodyBytes = 1 << 20

var (
	ErrVerificationRejected = errors.New("webhook verification rejected")
	ErrMalformedEvent       = errors.New("malformed webhook event")

	errInvalidJSON = errors.New("request body is not JSON")
)

// Submitter queues ingest work
type Submitter interface {
	Submit(ctx context.Context, job ingest.Job) error
}

// Handler serves the webhook endpoint
type Handler struct {
	verifyToken string
	submitter   Submitter
	ackBudget   time.Duration
	schema      *jsonschema.Schema
	now         func() time.Time
}

// NewHandler creates the handler. ackBudget bounds how long a delivery may
// wait for room in the ingest queue.
func NewHandler(verifyToken string, submitter Submitter, ackBudget time.Duration) (*Handler, error) {
	schema, err := compileEventSchema()
	if err != nil {
		return nil, err
	}
	if ackBudget <= 0 {
		ackBudget = 2 * time.Second
	}
	return &Handler{
		verifyToken: verifyToken,
		submitter:   submitter,
		ackBudget:   ackBudget,
		schema:      schema,
		now:         time.Now,
	}, nil
}

// Register mounts the webhook and health routes on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /webhook", h.handleVerify)
	mux.HandleFunc("POST /webhook", h.handleEvent)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})
}

// Verification is a parsed subscription handshake
type Verification struct {
	Mode        string
	VerifyToken string
	Challenge   string
	HubStyle    bool // parameters used the hub. prefix
}

// ParseVerification reads hub.mode/hub.verify_token/hub.challenge, falling
// back to the unprefixed names
func ParseVerification(q url.Values) Verification {
	if q.Has("hub.verify_token") || q.Has("hub.challenge") {
		return Verification{
			Mode:        q.Get("hub.mode"),
			VerifyToken: q.Get("hub.verify_token"),
			Challenge:   q.Get("hub.challenge"),
			HubStyle:    true,
		}
	}
	return Verification{
		Mode:        q.Get("mode"),
		VerifyToken: q.Get("verify_token"),
		Challenge:   q.Get("challenge"),
	}
}

// Verify returns the challenge when the token matches the configured secret
func (h *Handler) Verify(v Verification) (string, error) {
	if h.verifyToken == "" || !hmac.Equal([]byte(v.VerifyToken), []byte(h.verifyToken)) {
		return "", ErrVerificationRejected
	}
	return v.Challenge, nil
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	v := ParseVerification(r.URL.Query())
	challenge, err := h.Verify(v)
	if err != nil {
		log.Printf("[WEBHOOK] Verification rejected (mode %q)", v.Mode)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	log.Printf("[WEBHOOK] Verification accepted (mode %q)", v.Mode)
	if v.HubStyle {
		// Strava requires the challenge back as JSON
		writeJSON(w, http.StatusOK, map[string]string{"hub.challenge": challenge})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// ParseEvent decodes and validates a notification body
func (h *Handler) ParseEvent(body []byte) (*strava.WebhookEvent, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidJSON, err)
	}
	if err := h.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var event strava.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return &event, nil
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Printf("[WEBHOOK] Rejected body over %d bytes", maxBodyBytes)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read request body"})
		return
	}

	event, err := h.ParseEvent(body)
	switch {
	case errors.Is(err, errInvalidJSON):
		log.Printf("[WEBHOOK] Rejected non-JSON body: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	case err != nil:
		log.Printf("[WEBHOOK] Dropping event: %v", err)
		ack(w)
		return
	}

	if !event.IsActivityCreate() {
		log.Printf("[WEBHOOK] Ignoring %s/%s for object %d", event.ObjectType, event.AspectType, event.ObjectID)
		ack(w)
		return
	}

	job := ingest.Job{
		DeliveryID: uuid.NewString(),
		AthleteID:  event.OwnerID,
		ActivityID: event.ObjectID,
		ReceivedAt: h.now(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.ackBudget)
	defer cancel()
	if err := h.submitter.Submit(ctx, job); err != nil {
		log.Printf("[ERROR] %s: athlete %d activity %d not queued: %v", job.DeliveryID, job.AthleteID, job.ActivityID, err)
		ack(w)
		return
	}

	log.Printf("[WEBHOOK] %s: queued athlete %d activity %d", job.DeliveryID, job.AthleteID, job.ActivityID)
	ack(w)
}

func ack(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
