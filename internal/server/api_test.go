package server

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voxturn/voxturn/internal/diarize"
	"github.com/voxturn/voxturn/internal/storage"
	"github.com/voxturn/voxturn/internal/transcript"
)

type apiStoreStub struct {
	recordingsByDate map[string][]storage.Recording
	recordings       map[string]storage.Recording
	segments         map[string][]transcript.Segment
	speakerSegments  map[string][]diarize.SpeakerSegment
	labels           map[string]map[int]string
	dates            []string

	editedSegment uuid.UUID
	editedText    string
	renamed       map[int]string
	renameErr     error
}

func (s *apiStoreStub) GetRecordingsByDate(date string) ([]storage.Recording, error) {
	return s.recordingsByDate[date], nil
}

func (s *apiStoreStub) GetRecording(id string) (storage.Recording, error) {
	if rec, ok := s.recordings[id]; ok {
		return rec, nil
	}
	return storage.Recording{}, os.ErrNotExist
}

func (s *apiStoreStub) GetSegments(recordingID string) ([]transcript.Segment, error) {
	return s.segments[recordingID], nil
}

func (s *apiStoreStub) GetSpeakerSegments(recordingID string) ([]diarize.SpeakerSegment, error) {
	return s.speakerSegments[recordingID], nil
}

func (s *apiStoreStub) GetSpeakerLabels(recordingID string) (map[int]string, error) {
	return s.labels[recordingID], nil
}

func (s *apiStoreStub) GetDates() ([]string, error) {
	return s.dates, nil
}

func (s *apiStoreStub) UpdateSegmentText(recordingID string, segmentID uuid.UUID, text string) error {
	for _, seg := range s.segments[recordingID] {
		if seg.ID == segmentID {
			s.editedSegment = segmentID
			s.editedText = text
			return nil
		}
	}
	return os.ErrNotExist
}

func (s *apiStoreStub) RenameSpeaker(recordingID string, speaker int, label string) error {
	if s.renameErr != nil {
		return s.renameErr
	}
	if s.renamed == nil {
		s.renamed = map[int]string{}
	}
	s.renamed[speaker] = label
	return nil
}

func newAPIStub() *apiStoreStub {
	started := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	seg := transcript.Segment{
		ID:         transcript.NewSegmentID(1.0, 1.0),
		Text:       "hello world",
		Timestamp:  1.0,
		Duration:   1.5,
		Confidence: 0.9,
		Speaker:    1,
	}
	return &apiStoreStub{
		recordingsByDate: map[string][]storage.Recording{
			"2026-08-30": {{ID: "r1", StartedAt: started, SummaryStatus: storage.SummaryCompleted}},
		},
		recordings: map[string]storage.Recording{
			"r1": {ID: "r1", StartedAt: started, Summary: "hello", SummaryStatus: storage.SummaryCompleted},
		},
		segments: map[string][]transcript.Segment{"r1": {seg}},
		speakerSegments: map[string][]diarize.SpeakerSegment{
			"r1": {{Speaker: 1, Start: 0, End: 4}},
		},
		labels: map[string]map[int]string{"r1": {1: "Alice"}},
		dates:  []string{"2026-08-30"},
	}
}

func testStaticFS(t *testing.T) fs.FS {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>ok</html>"), 0o644); err != nil {
		t.Fatalf("write index.html failed: %v", err)
	}
	return os.DirFS(dir)
}

func testHandler(t *testing.T, store *apiStoreStub, controls ControlHooks) http.Handler {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	return Handler(testStaticFS(t), hub, store, controls, zerolog.Nop())
}

func TestAPIRecordingsList(t *testing.T) {
	h := testHandler(t, newAPIStub(), ControlHooks{})

	req := httptest.NewRequest(http.MethodGet, "/api/recordings?date=2026-08-30", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected application/json content-type, got %q", got)
	}
	if !strings.Contains(rr.Body.String(), "r1") {
		t.Fatalf("expected body to contain recording id, got %s", rr.Body.String())
	}
}

func TestAPIRecordingDetail(t *testing.T) {
	h := testHandler(t, newAPIStub(), ControlHooks{})

	req := httptest.NewRequest(http.MethodGet, "/api/recordings/r1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body struct {
		Recording       storage.Recording        `json:"recording"`
		Segments        []transcript.Segment     `json:"segments"`
		SpeakerSegments []diarize.SpeakerSegment `json:"speaker_segments"`
		SpeakerLabels   map[string]string        `json:"speaker_labels"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if body.Recording.ID != "r1" {
		t.Errorf("expected recording r1, got %q", body.Recording.ID)
	}
	if len(body.Segments) != 1 || body.Segments[0].Text != "hello world" {
		t.Errorf("unexpected segments: %+v", body.Segments)
	}
	if len(body.SpeakerSegments) != 1 {
		t.Errorf("expected 1 speaker segment, got %+v", body.SpeakerSegments)
	}
	if body.SpeakerLabels["1"] != "Alice" {
		t.Errorf("expected speaker label Alice, got %+v", body.SpeakerLabels)
	}
}

func TestAPIRecordingDetailNotFound(t *testing.T) {
	h := testHandler(t, newAPIStub(), ControlHooks{})

	req := httptest.NewRequest(http.MethodGet, "/api/recordings/missing", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestAPIRecordingIDValidation(t *testing.T) {
	h := testHandler(t, newAPIStub(), ControlHooks{})

	req := httptest.NewRequest(http.MethodGet, "/api/recordings/bad%2Fid", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad id, got %d", rr.Code)
	}
}

func TestAPISegmentEdit(t *testing.T) {
	store := newAPIStub()
	h := testHandler(t, store, ControlHooks{})

	segID := store.segments["r1"][0].ID
	body := strings.NewReader(`{"text": "hello corrected"}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/recordings/r1/segments/"+segID.String(), body)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if store.editedSegment != segID || store.editedText != "hello corrected" {
		t.Errorf("edit not applied: %v %q", store.editedSegment, store.editedText)
	}
}

func TestAPISegmentEditRejectsEmptyText(t *testing.T) {
	store := newAPIStub()
	h := testHandler(t, store, ControlHooks{})

	segID := store.segments["r1"][0].ID
	req := httptest.NewRequest(http.MethodPatch, "/api/recordings/r1/segments/"+segID.String(), strings.NewReader(`{"text": "  "}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty text, got %d", rr.Code)
	}
}

func TestAPISegmentEditBadID(t *testing.T) {
	h := testHandler(t, newAPIStub(), ControlHooks{})

	req := httptest.NewRequest(http.MethodPatch, "/api/recordings/r1/segments/not-a-uuid", strings.NewReader(`{"text": "x"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad uuid, got %d", rr.Code)
	}
}

func TestAPIRenameSpeaker(t *testing.T) {
	store := newAPIStub()
	h := testHandler(t, store, ControlHooks{})

	req := httptest.NewRequest(http.MethodPost, "/api/recordings/r1/speakers/1", strings.NewReader(`{"label": "Bob"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if store.renamed[1] != "Bob" {
		t.Errorf("rename not applied: %+v", store.renamed)
	}
}

func TestAPIRenameSpeakerErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		expected int
	}{
		{"invalid id", fmt.Errorf("%w: 0", diarize.ErrInvalidSpeakerID), http.StatusBadRequest},
		{"unknown speaker", fmt.Errorf("%w: speaker 9", diarize.ErrSpeakerProfileNotFound), http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newAPIStub()
			store.renameErr = tc.err
			h := testHandler(t, store, ControlHooks{})

			req := httptest.NewRequest(http.MethodPost, "/api/recordings/r1/speakers/1", strings.NewReader(`{"label": "Bob"}`))
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.expected {
				t.Fatalf("expected %d, got %d", tc.expected, rr.Code)
			}
		})
	}
}

func TestAPIDates(t *testing.T) {
	h := testHandler(t, newAPIStub(), ControlHooks{})

	req := httptest.NewRequest(http.MethodGet, "/api/dates", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var dates []string
	if err := json.Unmarshal(rr.Body.Bytes(), &dates); err != nil {
		t.Fatalf("decode dates: %v", err)
	}
	if len(dates) != 1 || dates[0] != "2026-08-30" {
		t.Errorf("unexpected dates: %v", dates)
	}
}

func TestAPIPauseResume(t *testing.T) {
	var paused bool
	var statusEvents []bool
	controls := ControlHooks{
		Pause:           func() { paused = true },
		Resume:          func() { paused = false },
		IsPaused:        func() bool { return paused },
		OnStatusChanged: func(p bool) { statusEvents = append(statusEvents, p) },
	}
	h := testHandler(t, newAPIStub(), controls)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/pause", nil))
	if rr.Code != http.StatusNoContent || !paused {
		t.Fatalf("pause failed: code=%d paused=%v", rr.Code, paused)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if !strings.Contains(rr.Body.String(), `"paused":true`) {
		t.Fatalf("expected paused status, got %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/resume", nil))
	if rr.Code != http.StatusNoContent || paused {
		t.Fatalf("resume failed: code=%d paused=%v", rr.Code, paused)
	}

	if len(statusEvents) != 2 || !statusEvents[0] || statusEvents[1] {
		t.Errorf("unexpected status events: %v", statusEvents)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := testHandler(t, newAPIStub(), ControlHooks{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rr.Code)
	}
}

func TestSPAFallback(t *testing.T) {
	h := testHandler(t, newAPIStub(), ControlHooks{})

	req := httptest.NewRequest(http.MethodGet, "/recordings/view", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for SPA route, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<html>ok</html>") {
		t.Fatalf("expected index.html body, got %s", rr.Body.String())
	}
}
