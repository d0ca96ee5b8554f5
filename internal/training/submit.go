package training

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ayusman/kai/internal/observe"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultSubmitTimeout bounds one submission request.
const DefaultSubmitTimeout = 30 * time.Second

// BatchIDHeader carries the id of a submitted batch.
const BatchIDHeader = "X-Batch-ID"

var (
	// ErrNoEndpoint is returned when no training endpoint is configured.
	ErrNoEndpoint = errors.New("training: no endpoint configured")

	// ErrEmptyDataset is returned when there is nothing to submit.
	ErrEmptyDataset = errors.New("training: no samples to send")

	// ErrSubmitFailed is returned for any non-2xx response or transport error.
	ErrSubmitFailed = errors.New("training: submission failed")
)

// SubmitterConfig configures a Submitter.
type SubmitterConfig struct {
	// Endpoint is the URL samples are POSTed to.
	Endpoint string

	// Timeout bounds each request. Default: DefaultSubmitTimeout.
	Timeout time.Duration

	// Client overrides the HTTP client. Optional.
	Client *http.Client

	Metrics *observe.Metrics
}

// Submitter sends datasets to the remote trainer. It never retries.
type Submitter struct {
	endpoint string
	client   *http.Client
	metrics  *observe.Metrics
}

// NewSubmitter creates a Submitter from cfg.
func NewSubmitter(cfg SubmitterConfig) *Submitter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSubmitTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Submitter{
		endpoint: cfg.Endpoint,
		client:   client,
		metrics:  cfg.Metrics,
	}
}

// Endpoint returns the configured target URL.
func (s *Submitter) Endpoint() string {
	return s.endpoint
}

// Submit POSTs samples as a JSON array and returns the batch id.
func (s *Submitter) Submit(ctx context.Context, samples []Sample) (string, error) {
	if s.endpoint == "" {
		return "", ErrNoEndpoint
	}
	if len(samples) == 0 {
		return "", ErrEmptyDataset
	}

	body, err := json.Marshal(samples)
	if err != nil {
		return "", fmt.Errorf("encode samples: %w", err)
	}

	batchID := uuid.New().String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(BatchIDHeader, batchID)

	resp, err := s.client.Do(req)
	if err != nil {
		s.record(ctx, "error")
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.record(ctx, "rejected")
		return "", fmt.Errorf("%w: status %d", ErrSubmitFailed, resp.StatusCode)
	}

	s.record(ctx, "ok")
	slog.Info("training batch submitted", "batch", batchID, "samples", len(samples))
	return batchID, nil
}

func (s *Submitter) record(ctx context.Context, status string) {
	s.metrics.Submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
