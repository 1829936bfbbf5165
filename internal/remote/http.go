package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alfredjeanlab/gatepass/internal/model"
)

// HTTPClient implements Store against the ledger's HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Compile-time check that HTTPClient implements Store.
var _ Store = (*HTTPClient)(nil)

// NewHTTPClient creates a client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// APIError represents an error response from the ledger.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (c *HTTPClient) PutCheckIn(ctx context.Context, rec *model.CheckInRecord) (*PutResult, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("marshaling record: %w", err)}
	}

	path := "/v1/events/" + url.PathEscape(rec.EventID) + "/checkins"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", rec.IdempotencyKey())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Context cancellation surfaces as-is so the caller can tell an
		// aborted submission from a network fault.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("reading response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var result PutResult
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, &TransientError{Err: fmt.Errorf("decoding response: %w", err)}
		}
		return &result, nil

	case resp.StatusCode == http.StatusConflict:
		var result struct {
			Conflict *Conflict `json:"conflict"`
		}
		if err := json.Unmarshal(body, &result); err != nil || result.Conflict == nil {
			return nil, &TransientError{Err: fmt.Errorf("decoding conflict response: %w", err)}
		}
		return &PutResult{Conflict: result.Conflict}, nil

	default:
		return nil, classifyStatus(resp.StatusCode, body)
	}
}

func (c *HTTPClient) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/events/"+url.PathEscape(eventID), nil)
	if err != nil {
		return nil, &PermanentError{Err: fmt.Errorf("creating request: %w", err)}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("reading response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var ev model.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, &TransientError{Err: fmt.Errorf("decoding event: %w", err)}
		}
		return &ev, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrEventNotFound

	default:
		return nil, classifyStatus(resp.StatusCode, body)
	}
}

// classifyStatus maps a non-success HTTP status to a transient or permanent
// error. Server-side faults and throttling retry; client faults do not.
func classifyStatus(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Message: errorMessage(body)}
	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return &TransientError{Err: apiErr}
	}
	return &PermanentError{Err: apiErr}
}

func errorMessage(body []byte) string {
	var errResp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	return strings.TrimSpace(string(body))
}
