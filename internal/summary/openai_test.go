package summary

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/voxturn/voxturn/internal/transcript"
)

type mockStore struct {
	claimFn func(recordingID, promptHash string) (bool, error)
}

func (m mockStore) ClaimSummaryRequest(recordingID, promptHash string) (bool, error) {
	return m.claimFn(recordingID, promptHash)
}

func TestSummarizeReturnsMarkdown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 123,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index": 0,
				"message": map[string]any{
					"role":    "assistant",
					"content": "## Summary\n- Key decision made",
				},
				"finish_reason": "stop",
			}},
		})
	}))
	defer server.Close()

	config := openai.DefaultConfig("test-key")
	config.BaseURL = server.URL + "/v1"

	summarizer := NewOpenAIWithConfig(config, "gpt-4o-mini", mockStore{claimFn: func(_, _ string) (bool, error) {
		return true, nil
	}})
	summarizer.sleep = func(_ time.Duration) {}

	text := strings.Repeat("hello ", 25)
	got, err := summarizer.Summarize(context.Background(), "r1", text)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if !strings.Contains(got, "## Summary") {
		t.Fatalf("unexpected summary: %q", got)
	}
}

func TestSummarizeSkipsShortConversation(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := openai.DefaultConfig("test-key")
	config.BaseURL = server.URL + "/v1"

	summarizer := NewOpenAIWithConfig(config, "gpt-4o-mini", nil)
	got, err := summarizer.Summarize(context.Background(), "r2", "too short")
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty summary for short conversation, got %q", got)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no API calls for short conversation, got %d", calls.Load())
	}
}

func TestSummarizeIdempotencyClaim(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := openai.DefaultConfig("test-key")
	config.BaseURL = server.URL + "/v1"

	summarizer := NewOpenAIWithConfig(config, "gpt-4o-mini", mockStore{claimFn: func(_, _ string) (bool, error) {
		return false, nil
	}})

	text := strings.Repeat("hello ", 25)
	got, err := summarizer.Summarize(context.Background(), "r3", text)
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty summary when claim rejected, got %q", got)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no API calls when claim rejected, got %d", calls.Load())
	}
}

func TestSummarizeRetriesWithBackoff(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := openai.DefaultConfig("test-key")
	config.BaseURL = server.URL + "/v1"

	summarizer := NewOpenAIWithConfig(config, "gpt-4o-mini", nil)
	var slept []time.Duration
	summarizer.sleep = func(d time.Duration) { slept = append(slept, d) }

	text := strings.Repeat("hello ", 25)
	_, err := summarizer.Summarize(context.Background(), "r4", text)
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if len(slept) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %v", slept)
	}
}

func TestFormatConversation(t *testing.T) {
	segments := []transcript.Segment{
		{Speaker: 1, Text: "shall we start"},
		{Speaker: 2, Text: "yes, go ahead"},
		{Speaker: 0, Text: "hard to hear"},
	}
	labels := map[int]string{1: "Alice"}

	got := FormatConversation(segments, labels)

	lines := strings.Split(strings.TrimRight(got, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %v", lines)
	}
	if lines[0] != "Alice: shall we start" {
		t.Errorf("expected label for speaker 1, got %q", lines[0])
	}
	if lines[1] != "Speaker 2: yes, go ahead" {
		t.Errorf("expected numbered speaker, got %q", lines[1])
	}
	if lines[2] != "Unknown: hard to hear" {
		t.Errorf("expected Unknown for speaker 0, got %q", lines[2])
	}
}
