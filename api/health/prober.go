package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"switchyard/api/model"
)

type Verdict string

const (
	Healthy   Verdict = "healthy"
	Unhealthy Verdict = "unhealthy"
)

// Policy bounds one Probe call.
type Policy struct {
	Path        string
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
	// OnAttempt, if set, is called after every attempt.
	OnAttempt AttemptFunc
}

// PolicyFromSite converts the site's health section.
func PolicyFromSite(h model.HealthSpec) Policy {
	return Policy{
		Path:        h.Path,
		Interval:    h.IntervalDuration(),
		MaxAttempts: h.MaxAttempts,
		Timeout:     h.TimeoutDuration(),
	}
}

func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("%w: max attempts must be positive, got %d", model.ErrInvalidConfig, p.MaxAttempts)
	}
	if p.Interval < 0 {
		return fmt.Errorf("%w: interval must not be negative, got %v", model.ErrInvalidConfig, p.Interval)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("%w: per-attempt timeout must be positive, got %v", model.ErrInvalidConfig, p.Timeout)
	}
	return nil
}

// Report describes how a Probe call went.
type Report struct {
	Attempts  int    `json:"attempts"`
	LastError string `json:"lastError,omitempty"`
}

// AttemptFunc is called after every attempt; err is nil on success.
type AttemptFunc func(attempt int, err error)

// Prober polls a slot's health endpoint.
type Prober struct {
	Client *http.Client
}

func NewProber() *Prober {
	return &Prober{Client: &http.Client{}}
}

// Probe issues up to p.MaxAttempts sequential GETs against
// http://address+p.Path. The first passing attempt returns Healthy. Failed
// attempts of any kind only count against the budget; exhausting it
// returns Unhealthy. A cancelled ctx stops probing and returns ctx.Err().
func (pr *Prober) Probe(ctx context.Context, address string, p Policy) (Verdict, Report, error) {
	var rep Report
	if err := p.Validate(); err != nil {
		return Unhealthy, rep, err
	}
	if address == "" {
		return Unhealthy, rep, fmt.Errorf("%w: empty address", model.ErrInvalidConfig)
	}
	path := p.Path
	if path == "" {
		path = model.DefaultHealthPath
	}
	url := "http://" + address + path

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Unhealthy, rep, err
		}
		rep.Attempts = attempt

		err := pr.attempt(ctx, url, p.Timeout)
		if p.OnAttempt != nil {
			p.OnAttempt(attempt, err)
		}
		if err == nil {
			rep.LastError = ""
			return Healthy, rep, nil
		}
		rep.LastError = err.Error()

		if attempt == p.MaxAttempts {
			break
		}
		timer := time.NewTimer(p.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Unhealthy, rep, ctx.Err()
		case <-timer.C:
		}
	}
	// The last attempt may have failed only because ctx ran out.
	if err := ctx.Err(); err != nil {
		return Unhealthy, rep, err
	}
	return Unhealthy, rep, nil
}

func (pr *Prober) attempt(ctx context.Context, url string, timeout time.Duration) error {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := pr.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if !HealthyBody(body) {
		return fmt.Errorf("body does not report a healthy state: %q", truncate(string(body), 80))
	}
	return nil
}

var healthyMarkers = map[string]bool{
	"ok":      true,
	"healthy": true,
	"up":      true,
	"pass":    true,
	"passing": true,
}

// HealthyBody accepts {"status": "<marker>"} or a bare marker word.
func HealthyBody(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
			return false
		}
		return healthyMarkers[strings.ToLower(payload.Status)]
	}
	return healthyMarkers[strings.ToLower(trimmed)]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
