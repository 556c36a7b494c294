package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/voxturn/voxturn/internal/diarize"
	"github.com/voxturn/voxturn/internal/storage"
	"github.com/voxturn/voxturn/internal/transcript"
)

var recordingIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type RecordingStore interface {
	GetRecordingsByDate(date string) ([]storage.Recording, error)
	GetRecording(id string) (storage.Recording, error)
	GetSegments(recordingID string) ([]transcript.Segment, error)
	GetSpeakerSegments(recordingID string) ([]diarize.SpeakerSegment, error)
	GetSpeakerLabels(recordingID string) (map[int]string, error)
	GetDates() ([]string, error)
	UpdateSegmentText(recordingID string, segmentID uuid.UUID, text string) error
	RenameSpeaker(recordingID string, speaker int, label string) error
}

type ControlHooks struct {
	Pause           func()
	Resume          func()
	IsPaused        func() bool
	Warnings        func() []string
	OnStatusChanged func(paused bool)
}

func registerAPIRoutes(mux *http.ServeMux, store RecordingStore, controls ControlHooks) {
	mux.HandleFunc("GET /api/recordings", func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}

		recordings, err := store.GetRecordingsByDate(date)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list recordings: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, recordings)
	})

	mux.HandleFunc("GET /api/recordings/{id}", func(w http.ResponseWriter, r *http.Request) {
		recordingID := r.PathValue("id")
		if !validRecordingID(recordingID) {
			writeJSONError(w, http.StatusForbidden, "invalid recording id")
			return
		}

		recording, err := store.GetRecording(recordingID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, os.ErrNotExist) || errors.Is(err, sql.ErrNoRows) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get recording: %v", err))
			return
		}

		segments, err := store.GetSegments(recordingID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get recording segments: %v", err))
			return
		}

		speakerSegments, err := store.GetSpeakerSegments(recordingID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get speaker segments: %v", err))
			return
		}

		labels, err := store.GetSpeakerLabels(recordingID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get speaker labels: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"recording":        recording,
			"segments":         segments,
			"speaker_segments": speakerSegments,
			"speaker_labels":   labels,
		})
	})

	mux.HandleFunc("PATCH /api/recordings/{id}/segments/{segmentID}", func(w http.ResponseWriter, r *http.Request) {
		recordingID := r.PathValue("id")
		if !validRecordingID(recordingID) {
			writeJSONError(w, http.StatusForbidden, "invalid recording id")
			return
		}

		segmentID, err := uuid.Parse(r.PathValue("segmentID"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid segment id")
			return
		}

		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(body.Text) == "" {
			writeJSONError(w, http.StatusBadRequest, "text must not be empty")
			return
		}

		if err := store.UpdateSegmentText(recordingID, segmentID, body.Text); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeJSONError(w, http.StatusNotFound, "segment not found")
				return
			}
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("update segment: %v", err))
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/recordings/{id}/speakers/{speaker}", func(w http.ResponseWriter, r *http.Request) {
		recordingID := r.PathValue("id")
		if !validRecordingID(recordingID) {
			writeJSONError(w, http.StatusForbidden, "invalid recording id")
			return
		}

		speaker, err := strconv.Atoi(r.PathValue("speaker"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid speaker id")
			return
		}

		var body struct {
			Label string `json:"label"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(body.Label) == "" {
			writeJSONError(w, http.StatusBadRequest, "label must not be empty")
			return
		}

		if err := store.RenameSpeaker(recordingID, speaker, body.Label); err != nil {
			switch {
			case errors.Is(err, diarize.ErrInvalidSpeakerID):
				writeJSONError(w, http.StatusBadRequest, err.Error())
			case errors.Is(err, diarize.ErrSpeakerProfileNotFound):
				writeJSONError(w, http.StatusNotFound, err.Error())
			default:
				writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("rename speaker: %v", err))
			}
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/recordings/{id}/audio", func(w http.ResponseWriter, r *http.Request) {
		recordingID := r.PathValue("id")
		if !validRecordingID(recordingID) {
			writeJSONError(w, http.StatusForbidden, "invalid recording id")
			return
		}

		recording, err := store.GetRecording(recordingID)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "recording not found")
			return
		}

		if recording.AudioPath == "" {
			writeJSONError(w, http.StatusNotFound, "audio not available")
			return
		}

		cleanPath := filepath.Clean(recording.AudioPath)
		if cleanPath == "" || cleanPath == "." || cleanPath == ".." || strings.Contains(cleanPath, "..") {
			writeJSONError(w, http.StatusForbidden, "invalid audio path")
			return
		}

		f, err := os.Open(cleanPath)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "audio file not found")
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("stat audio: %v", err))
			return
		}

		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("Content-Type", contentTypeForAudio(cleanPath))
		http.ServeContent(w, r, filepath.Base(cleanPath), info.ModTime(), f)
	})

	mux.HandleFunc("GET /api/dates", func(w http.ResponseWriter, r *http.Request) {
		dates, err := store.GetDates()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get dates: %v", err))
			return
		}
		if dates == nil {
			dates = []string{}
		}
		writeJSON(w, http.StatusOK, dates)
	})

	mux.HandleFunc("POST /api/pause", func(w http.ResponseWriter, r *http.Request) {
		if controls.Pause != nil {
			controls.Pause()
		}
		if controls.OnStatusChanged != nil {
			controls.OnStatusChanged(true)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/resume", func(w http.ResponseWriter, r *http.Request) {
		if controls.Resume != nil {
			controls.Resume()
		}
		if controls.OnStatusChanged != nil {
			controls.OnStatusChanged(false)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		paused := false
		if controls.IsPaused != nil {
			paused = controls.IsPaused()
		}
		var warnings []string
		if controls.Warnings != nil {
			warnings = controls.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"paused": paused, "warnings": warnings})
	})
}

func validRecordingID(id string) bool {
	return recordingIDPattern.MatchString(id)
}

func contentTypeForAudio(path string) string {
	switch filepath.Ext(path) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
