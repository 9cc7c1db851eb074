// Package events fans out scrape and sampling notifications.
package events

import (
	"context"
	"time"
)

// Publisher is implemented by downstream fan-out mechanisms.
type Publisher interface {
	PublishScrape(ctx context.Context, event ScrapeEvent) error
	PublishSample(ctx context.Context, event SampleEvent) error
}

// ScrapeEvent is emitted when a scrape run finishes.
type ScrapeEvent struct {
	RunID      string         `json:"run_id"`
	Pipeline   string         `json:"pipeline"`
	Rows       map[string]int `json:"rows"`
	Failures   []string       `json:"failures,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// SampleEvent is emitted after a policy sample served over a transport.
type SampleEvent struct {
	RequestID     string `json:"request_id"`
	Transport     string `json:"transport"`
	Kind          string `json:"kind"`
	Rows          int    `json:"rows"`
	Deterministic bool   `json:"deterministic"`
	LastError     string `json:"last_error,omitempty"`
}

// NoopPublisher drops every event; useful for tests.
type NoopPublisher struct{}

// PublishScrape satisfies Publisher.
func (NoopPublisher) PublishScrape(context.Context, ScrapeEvent) error { return nil }

// PublishSample satisfies Publisher.
func (NoopPublisher) PublishSample(context.Context, SampleEvent) error { return nil }
