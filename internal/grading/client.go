// Package grading is the HTTP client of the remote grader that scores
// submitted assessments.
package grading

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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-screening/internal/assessment"
	"github.com/stemsi/exstem-screening/internal/model"
)

// Error codes returned by the grader.
const (
	CodeNoActiveSubscription = "NO_ACTIVE_SUBSCRIPTION"
	CodeResponsesRequired    = "RESPONSES_REQUIRED"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// Client submits answer lists to the grader.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a Client. timeout bounds each request; the caller's
// context may cut it shorter.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "grader_client").Logger(),
	}
}

// errorBody accepts both a flat {"code","message"} body and the
// {"error":{"code","message"}} envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// StatusError is a non-2xx grader response that is neither an entitlement
// nor a validation failure.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("grader returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("grader returned %d", e.StatusCode)
}

// Submit posts the answers. Entitlement and validation rejections wrap
// assessment.ErrNoSubscription and assessment.ErrResponsesRequired.
func (c *Client) Submit(ctx context.Context, assessmentID uuid.UUID, answers []model.Answer) error {
	body, err := json.Marshal(model.SubmissionRequest{Responses: answers})
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}

	endpoint := c.baseURL + "/assessments/" + url.PathEscape(assessmentID.String()) + "/submit"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post submission: %w", err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("assessment_id", assessmentID.String()).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Int("responses", len(answers)).
		Msg("Grader responded")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return classify(resp)
}

func classify(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)
	code, msg := eb.Code, eb.Message
	if eb.Error != nil {
		code, msg = eb.Error.Code, eb.Error.Message
	}

	switch {
	case code == CodeNoActiveSubscription, code == "" && resp.StatusCode == http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", assessment.ErrNoSubscription, msg)
	case code == CodeResponsesRequired, code == "" && resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", assessment.ErrResponsesRequired, msg)
	}
	return &StatusError{StatusCode: resp.StatusCode, Code: code, Message: msg}
}
