package explain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExplainStructuredResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/explain_with_images" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["content"] != "TYP 1/2\" GWB" {
			t.Errorf("content = %q", req["content"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"summary": ["Typical half-inch gypsum wall board."],
			"key_terms": [{"term": "GWB", "definition": "gypsum wall board"}],
			"unit_conversions": [{"original": "1/2\"", "si": "12.7 mm"}],
			"clarifying_question": "",
			"images": [{"image_url": "https://example.com/gwb.jpg", "title": "GWB detail"}]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.Explain(context.Background(), `TYP 1/2" GWB`)
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if len(got.Summary) != 1 || len(got.KeyTerms) != 1 || len(got.UnitConversions) != 1 || len(got.Images) != 1 {
		t.Errorf("got %+v", got)
	}
	if got.KeyTerms[0].Term != "GWB" || got.UnitConversions[0].SI != "12.7 mm" {
		t.Errorf("got %+v", got)
	}
}

func TestExplainSalvagesWrappedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Here is the result:\n{\"summary\": [\"A door schedule.\"]}\nHope that helps."))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.Explain(context.Background(), "DOOR SCHEDULE")
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if len(got.Summary) != 1 || got.Summary[0] != "A door schedule." {
		t.Errorf("summary = %v", got.Summary)
	}
	// Absent lists normalize to empty arrays, not nil.
	if got.KeyTerms == nil || got.Images == nil {
		t.Error("nil slices not normalized")
	}
}

func TestExplainEmptyContentRejectedLocally(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	_, err := c.Explain(context.Background(), "   ")
	var eerr *ExplanationError
	if !errors.As(err, &eerr) {
		t.Fatalf("expected ExplanationError, got %v", err)
	}
}

func TestExplainServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail": "llm unavailable"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Explain(context.Background(), "CORRIDOR")
	var eerr *ExplanationError
	if !errors.As(err, &eerr) {
		t.Fatalf("expected ExplanationError, got %v", err)
	}
	if eerr.Status != http.StatusInternalServerError {
		t.Errorf("status = %d", eerr.Status)
	}
}
