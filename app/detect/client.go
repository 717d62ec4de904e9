// Package detect talks to the external detection service and orchestrates
// per-workspace detection requests: issuing, caching, scaling and guarding
// against stale responses.
package detect

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/ohler55/ojg/oj"

	"planlens/app/annotations"
	"planlens/app/geometry"
)

// DetectionError is a recoverable failure to obtain detection results:
// transport errors, non-success statuses or malformed payloads. The
// workspace keeps its last good annotations when one occurs.
type DetectionError struct {
	Status  int
	Message string
}

func (e *DetectionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("detection service error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("detection service error: %s", e.Message)
}

// RegionResult is the outcome of a region detection: the detected shapes in
// original-image coordinates plus a preview of the cropped region as a data
// URL.
type RegionResult struct {
	Set          annotations.Set
	CroppedImage string
}

// Client calls the external detection service.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a detection client for the given base URL, e.g.
// "http://127.0.0.1:8001/detect".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			// Detection on a full sheet can take a while on CPU-only hosts
			Timeout: 120 * time.Second,
		},
	}
}

// DetectFull posts the whole image and returns detected circles and text
// regions in natural image coordinates.
func (c *Client) DetectFull(ctx context.Context, image []byte, filename string) (annotations.Set, error) {
	body, err := c.post(ctx, c.baseURL+"/", image, filename, nil)
	if err != nil {
		return annotations.Set{}, err
	}
	set, _, err := parseDetectionResponse(body)
	return set, err
}

// DetectRegion posts the image plus an integer crop rectangle. The service
// crops server-side and maps all coordinates back to the original image, so
// no re-offset is applied here. Region responses name the text list
// "detections" where full responses use "texts"; parsing accepts both.
func (c *Client) DetectRegion(ctx context.Context, image []byte, filename string, crop geometry.CropRect) (RegionResult, error) {
	fields := map[string]string{
		"x": strconv.Itoa(crop.X),
		"y": strconv.Itoa(crop.Y),
		"w": strconv.Itoa(crop.W),
		"h": strconv.Itoa(crop.H),
	}
	body, err := c.post(ctx, c.baseURL+"/region-detect", image, filename, fields)
	if err != nil {
		return RegionResult{}, err
	}
	set, preview, err := parseDetectionResponse(body)
	if err != nil {
		return RegionResult{}, err
	}
	return RegionResult{Set: set, CroppedImage: preview}, nil
}

// post sends a multipart request with the image under the "file" field and
// any extra form fields, returning the raw response body.
func (c *Client) post(ctx context.Context, url string, image []byte, filename string, fields map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build request body: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &DetectionError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DetectionError{Message: fmt.Sprintf("failed to read response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &DetectionError{Status: resp.StatusCode, Message: truncate(string(body), 200)}
	}
	return body, nil
}

// parseDetectionResponse decodes a detection payload leniently. The service
// is a loosely typed Python backend: numbers arrive as ints or floats, the
// text list is named "texts" or "detections" depending on the endpoint, and
// error replies are a 200 with an "error" key.
func parseDetectionResponse(body []byte) (annotations.Set, string, error) {
	doc, err := oj.Parse(body)
	if err != nil {
		return annotations.Set{}, "", &DetectionError{Message: fmt.Sprintf("malformed response: %v", err)}
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return annotations.Set{}, "", &DetectionError{Message: "unexpected response shape"}
	}
	if msg, ok := root["error"].(string); ok && msg != "" {
		return annotations.Set{}, "", &DetectionError{Message: msg}
	}

	var set annotations.Set
	for _, raw := range asSlice(root["circles"]) {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		set.Circles = append(set.Circles, annotations.Circle{
			ID:             asInt(m["id"]),
			X:              asFloat(m["x"]),
			Y:              asFloat(m["y"]),
			R:              asFloat(m["r"]),
			PageNumber:     asString(m["page_number"]),
			CircleText:     asString(m["circle_text"]),
			RawTextsTop:    asStringSlice(m["raw_texts_top"]),
			RawTextsBottom: asStringSlice(m["raw_texts_bottom"]),
		})
	}

	textList := root["texts"]
	if textList == nil {
		textList = root["detections"]
	}
	for _, raw := range asSlice(textList) {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		set.Texts = append(set.Texts, annotations.TextRegion{
			ID:   asInt(m["id"]),
			X1:   asFloat(m["x1"]),
			Y1:   asFloat(m["y1"]),
			X2:   asFloat(m["x2"]),
			Y2:   asFloat(m["y2"]),
			Text: asString(m["text"]),
		})
	}

	preview := asString(root["cropped_image"])
	return set, preview, nil
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func asInt(v any) int {
	return int(asFloat(v))
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringSlice(v any) []string {
	raw := asSlice(v)
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
