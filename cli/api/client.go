package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type Slot struct {
	ID                  string     `json:"id"`
	Address             string     `json:"address"`
	LastKnownHealthy    *time.Time `json:"lastKnownHealthy,omitempty"`
	LastDeployedVersion string     `json:"lastDeployedVersion,omitempty"`
}

type Attempt struct {
	ID            string    `json:"id"`
	App           string    `json:"app"`
	Version       string    `json:"version"`
	FromSlot      string    `json:"fromSlot"`
	TargetSlot    string    `json:"targetSlot"`
	Outcome       string    `json:"outcome"`
	Kind          string    `json:"kind,omitempty"`
	Reason        string    `json:"reason"`
	ProbeAttempts int       `json:"probeAttempts,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`
}

func (a Attempt) Duration() time.Duration {
	if a.FinishedAt.IsZero() {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}

type Status struct {
	App           string   `json:"app"`
	ActiveSlot    string   `json:"activeSlot"`
	UpdatedAt     string   `json:"updatedAt"`
	Slots         []Slot   `json:"slots"`
	State         string   `json:"state"`
	Current       *Attempt `json:"current,omitempty"`
	LastAttempt   *Attempt `json:"lastAttempt,omitempty"`
	RouterAddress string   `json:"routerAddress,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
}

type DeployResult struct {
	Attempt  Attempt  `json:"attempt"`
	Warnings []string `json:"warnings,omitempty"`
}

// HTTPError is a non-2xx answer from the API.
type HTTPError struct {
	Code int
	Body string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, strings.TrimSpace(e.Body))
}

func (c *Client) Status() (*Status, error) {
	var s Status
	if err := c.get("/api/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) History(limit int) ([]Attempt, error) {
	var attempts []Attempt
	if err := c.get("/api/history?limit="+strconv.Itoa(limit), &attempts); err != nil {
		return nil, err
	}
	return attempts, nil
}

// Deploy blocks until the attempt finishes. A failed outcome comes back
// as a result together with an *HTTPError carrying the status code.
func (c *Client) Deploy(version string, timeout time.Duration) (*DeployResult, error) {
	body, _ := json.Marshal(map[string]string{"version": version})
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+"/api/deploy", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	hc := *c.HTTPClient
	hc.Timeout = timeout
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var res DeployResult
	if json.Unmarshal(data, &res) != nil || res.Attempt.ID == "" {
		return nil, &HTTPError{Code: resp.StatusCode, Body: string(data)}
	}
	if resp.StatusCode >= 400 {
		return &res, &HTTPError{Code: resp.StatusCode, Body: res.Attempt.Reason}
	}
	return &res, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

// Header returns the headers used for the event stream handshake.
func (c *Client) Header() http.Header {
	h := http.Header{}
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	return h
}

func (c *Client) get(path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &HTTPError{Code: resp.StatusCode, Body: string(body)}
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) WebSocketURL() string {
	base := c.BaseURL
	base = strings.Replace(base, "http://", "ws://", 1)
	base = strings.Replace(base, "https://", "wss://", 1)
	return base + "/ws"
}
