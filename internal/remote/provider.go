// Package remote uploads stream files to Google Drive through an ordered
// chain of credentials.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
)

// Mechanism names the credential that produced an upload
type Mechanism string

const (
	MechanismNone           Mechanism = ""
	MechanismDelegated      Mechanism = "delegated"
	MechanismServiceAccount Mechanism = "service_account"
)

var (
	ErrNotConfigured = errors.New("remote credential not configured")
	ErrUploadFailed  = errors.New("remote upload failed")
)

// File is the uploaded remote object
type File struct {
	ID   string
	Link string
}

// Provider uploads one named file with one kind of credential
type Provider interface {
	Mechanism() Mechanism
	Upload(ctx context.Context, name string, content []byte) (*File, error)
}

// Attempt is the outcome of one provider in the chain
type Attempt struct {
	Mechanism Mechanism
	File      *File
	Err       error
}

// Outcome collects the attempts of one Chain.Upload
type Outcome struct {
	Attempts []Attempt
}

// Uploaded returns the successful attempt, or nil
func (o *Outcome) Uploaded() *Attempt {
	for i := range o.Attempts {
		if o.Attempts[i].Err == nil && o.Attempts[i].File != nil {
			return &o.Attempts[i]
		}
	}
	return nil
}

// Err joins the attempt errors when nothing was uploaded
func (o *Outcome) Err() error {
	if o.Uploaded() != nil {
		return nil
	}
	errs := []error{ErrUploadFailed}
	for _, a := range o.Attempts {
		errs = append(errs, fmt.Errorf("%s: %w", a.Mechanism, a.Err))
	}
	return errors.Join(errs...)
}

// Chain tries providers in order and stops at the first success.
// Each provider is tried at most once per upload.
type Chain struct {
	providers []Provider
}

// NewChain creates a chain; nil providers are skipped
func NewChain(providers ...Provider) *Chain {
	c := &Chain{}
	for _, p := range providers {
		if p != nil {
			c.providers = append(c.providers, p)
		}
	}
	return c
}

// Upload sends content to the first provider that accepts it
func (c *Chain) Upload(ctx context.Context, name string, content []byte) *Outcome {
	out := &Outcome{}
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			out.Attempts = append(out.Attempts, Attempt{Mechanism: p.Mechanism(), Err: err})
			break
		}

		f, err := p.Upload(ctx, name, bytes.Clone(content))
		if err == nil && f == nil {
			err = fmt.Errorf("%w: provider returned no file", ErrUploadFailed)
		}
		out.Attempts = append(out.Attempts, Attempt{Mechanism: p.Mechanism(), File: f, Err: err})
		if err == nil {
			log.Printf("[DRIVE] Uploaded %s via %s (id %s)", name, p.Mechanism(), f.ID)
			return out
		}
		switch {
		case err == ErrNotConfigured:
			log.Printf("[DRIVE] %s credential not configured, skipping", p.Mechanism())
		case errors.Is(err, ErrNotConfigured):
			log.Printf("[DRIVE] %s credential unusable, skipping: %v", p.Mechanism(), err)
		default:
			log.Printf("[DRIVE] Upload of %s via %s failed: %v", name, p.Mechanism(), err)
		}
	}
	return out
}
