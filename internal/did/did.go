// Package did is a client for the D-ID talking avatar streaming API.
package did

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.d-id.com"

var ErrUnauthorized = errors.New("did: unauthorized request, check the credentials")

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("did: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type Offer struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// UnmarshalJSON accepts urls as a single string or a list.
func (s *ICEServer) UnmarshalJSON(data []byte) error {
	var raw struct {
		URLs       json.RawMessage `json:"urls"`
		Username   string          `json:"username"`
		Credential string          `json:"credential"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Username, s.Credential, s.URLs = raw.Username, raw.Credential, nil
	if len(raw.URLs) == 0 || string(raw.URLs) == "null" {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw.URLs, &one); err == nil {
		s.URLs = []string{one}
		return nil
	}
	if err := json.Unmarshal(raw.URLs, &s.URLs); err != nil {
		return fmt.Errorf("did: ice server urls: %w", err)
	}
	return nil
}

// StreamDescriptor is the WebRTC session D-ID opens for a new stream.
type StreamDescriptor struct {
	ID         string      `json:"id"`
	Offer      Offer       `json:"offer"`
	ICEServers []ICEServer `json:"ice_servers"`
	SessionID  string      `json:"session_id"`
}

type StatusResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if b := strings.TrimRight(strings.TrimSpace(baseURL), "/"); b != "" {
			c.baseURL = b
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a client authenticating with the Basic token D-ID issues.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("did: api key must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateStream opens a stream presenting the image at sourceURL.
func (c *Client) CreateStream(ctx context.Context, sourceURL string) (*StreamDescriptor, error) {
	payload := map[string]any{
		"stream_warmup": false,
		"source_url":    sourceURL,
	}
	var desc StreamDescriptor
	if err := c.do(ctx, http.MethodPost, "/talks/streams", payload, &desc); err != nil {
		return nil, fmt.Errorf("did: create stream: %w", err)
	}
	if desc.ID == "" || desc.SessionID == "" {
		return nil, errors.New("did: create stream: response without id or session")
	}
	return &desc, nil
}

// StartStream answers the SDP offer of a created stream.
func (c *Client) StartStream(ctx context.Context, streamID, sessionID, answerSDP string) (*StatusResponse, error) {
	payload := map[string]any{
		"answer":     Offer{Type: "answer", SDP: answerSDP},
		"session_id": sessionID,
	}
	var status StatusResponse
	if err := c.do(ctx, http.MethodPost, "/talks/streams/"+streamID+"/sdp", payload, &status); err != nil {
		return nil, fmt.Errorf("did: start stream: %w", err)
	}
	return &status, nil
}

// SendTalk makes the avatar speak text.
func (c *Client) SendTalk(ctx context.Context, streamID, sessionID, text string) (*StatusResponse, error) {
	payload := map[string]any{
		"script":     map[string]string{"type": "text", "input": text},
		"session_id": sessionID,
	}
	var status StatusResponse
	if err := c.do(ctx, http.MethodPost, "/talks/streams/"+streamID, payload, &status); err != nil {
		return nil, fmt.Errorf("did: send talk: %w", err)
	}
	return &status, nil
}

func (c *Client) DeleteStream(ctx context.Context, streamID, sessionID string) error {
	payload := map[string]any{"session_id": sessionID}
	if err := c.do(ctx, http.MethodDelete, "/talks/streams/"+streamID, payload, nil); err != nil {
		return fmt.Errorf("did: delete stream: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
