package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/quarry/internal/models"
)

// ErrNotFound is returned when the API has no record for the user
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the extraction API
type APIError struct {
	StatusCode int
	Message    string
	// Job is set when a 409 carries the in-flight record
	Job *models.ExtractionJob
}

func (e *APIError) Error() string {
	return fmt.Sprintf("extraction api returned %d: %s", e.StatusCode, e.Message)
}

// Accepted mirrors the 202 body of POST /extract
type Accepted struct {
	Status    string `json:"status"`
	UserEmail string `json:"userEmail"`
	Message   string `json:"message"`
}

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// Client calls the quarry extraction API
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the API rooted at baseURL
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewDefaultHTTPClient(30 * time.Second)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// StartExtraction queues an extraction for userEmail
func (c *Client) StartExtraction(ctx context.Context, userEmail string) (*Accepted, error) {
	body, err := json.Marshal(map[string]string{"userEmail": userEmail})
	if err != nil {
		return nil, err
	}

	var accepted Accepted
	if err := c.do(ctx, http.MethodPost, "/extract", bytes.NewReader(body), &accepted); err != nil {
		return nil, err
	}
	return &accepted, nil
}

// Status returns the job record for userEmail
func (c *Client) Status(ctx context.Context, userEmail string) (*models.ExtractionJob, error) {
	var job models.ExtractionJob
	if err := c.do(ctx, http.MethodGet, "/extract/"+url.PathEscape(userEmail), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Orders returns the latest stored order set for userEmail
func (c *Client) Orders(ctx context.Context, userEmail string) (*models.StoredOrderSet, error) {
	var stored models.StoredOrderSet
	if err := c.do(ctx, http.MethodGet, "/extract/"+url.PathEscape(userEmail)+"/orders", nil, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: "extraction already in progress"}
		var job models.ExtractionJob
		if json.Unmarshal(data, &job) == nil && job.Status != "" {
			apiErr.Job = &job
		}
		return apiErr
	case resp.StatusCode >= 300:
		var e struct {
			Error string `json:"error"`
		}
		message := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			message = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
