// Package explain calls the external explanation service, which turns a
// detected text snippet into a structured, student-facing explanation with
// optional reference images.
package explain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ExplanationError is surfaced inline in the shape popup, never globally.
type ExplanationError struct {
	Status  int
	Message string
}

func (e *ExplanationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("explanation service error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("explanation service error: %s", e.Message)
}

// KeyTerm is a term/definition pair found in the snippet.
type KeyTerm struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

// UnitConversion pairs an imperial quantity with its SI equivalent.
type UnitConversion struct {
	Original string `json:"original"`
	SI       string `json:"si"`
}

// ImageResult is one reference image returned alongside the explanation.
type ImageResult struct {
	ImageURL     string `json:"image_url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	PageURL      string `json:"page_url,omitempty"`
	Title        string `json:"title,omitempty"`
	Source       string `json:"source,omitempty"`
}

// Explanation is the structured response rendered in the popup.
type Explanation struct {
	Summary            []string         `json:"summary"`
	KeyTerms           []KeyTerm        `json:"key_terms"`
	UnitConversions    []UnitConversion `json:"unit_conversions"`
	ClarifyingQuestion string           `json:"clarifying_question"`
	Images             []ImageResult    `json:"images"`
}

type explainRequest struct {
	Content string `json:"content"`
}

// Client calls the external explanation service.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates an explanation client for the given base URL, e.g.
// "http://127.0.0.1:8001/llm-images".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Explain requests a structured explanation of the given snippet. Content
// must be non-empty; failures come back as ExplanationError so the popup
// can show them inline.
func (c *Client) Explain(ctx context.Context, content string) (*Explanation, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &ExplanationError{Message: "nothing to explain"}
	}

	bodyBytes, err := json.Marshal(explainRequest{Content: content})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/explain_with_images", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ExplanationError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ExplanationError{Message: fmt.Sprintf("failed to read response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ExplanationError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	result, err := parseExplanation(body)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// parseExplanation decodes the response, salvaging a JSON object embedded
// in surrounding noise if the strict parse fails (the upstream model
// occasionally wraps its output despite instructions).
func parseExplanation(body []byte) (*Explanation, error) {
	var out Explanation
	if err := json.Unmarshal(body, &out); err == nil {
		return normalize(&out), nil
	}

	raw := string(body)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start != -1 && end > start {
		if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err == nil {
			return normalize(&out), nil
		}
	}

	// Last resort: present whatever came back as a single summary line so
	// the popup still shows something useful.
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &ExplanationError{Message: "empty response"}
	}
	return &Explanation{Summary: []string{trimmed}}, nil
}

// normalize replaces nil slices so the frontend always receives arrays.
func normalize(e *Explanation) *Explanation {
	if e.Summary == nil {
		e.Summary = []string{}
	}
	if e.KeyTerms == nil {
		e.KeyTerms = []KeyTerm{}
	}
	if e.UnitConversions == nil {
		e.UnitConversions = []UnitConversion{}
	}
	if e.Images == nil {
		e.Images = []ImageResult{}
	}
	return e
}
