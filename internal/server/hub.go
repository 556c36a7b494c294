package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxturn/voxturn/internal/transcript"
)

// Hub fans events out to connected websocket clients. It also satisfies
// the session manager's Publisher interface, so transcript updates flow
// straight from the manager's consumer goroutine to the UI.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[chan []byte]struct{}),
		log:     log,
	}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

// Broadcast delivers msg to every subscriber, dropping it for clients
// whose buffers are full. A slow browser never backs up the recorder.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) PublishTranscript(recordingID string, full []transcript.Segment, committed int) {
	if full == nil {
		full = []transcript.Segment{}
	}
	h.broadcastEvent(TranscriptUpdatedEvent{
		Event:       newEvent("transcript_updated", time.Now().UTC()),
		RecordingID: recordingID,
		Segments:    full,
		Committed:   committed,
	})
}

func (h *Hub) PublishRecordingStarted(recordingID string) {
	h.broadcastEvent(RecordingStartedEvent{
		Event:       newEvent("recording_started", time.Now().UTC()),
		RecordingID: recordingID,
	})
}

func (h *Hub) PublishRecordingEnded(recordingID string, duration time.Duration) {
	h.broadcastEvent(RecordingEndedEvent{
		Event:       newEvent("recording_ended", time.Now().UTC()),
		RecordingID: recordingID,
		Duration:    duration.Seconds(),
	})
}

func (h *Hub) BroadcastSpeakersReady(recordingID string, speakers int, turnChanges []float64) {
	if turnChanges == nil {
		turnChanges = []float64{}
	}
	h.broadcastEvent(SpeakersReadyEvent{
		Event:       newEvent("speakers_ready", time.Now().UTC()),
		RecordingID: recordingID,
		Speakers:    speakers,
		TurnChanges: turnChanges,
	})
}

func (h *Hub) BroadcastSummaryReady(recordingID, summary, status string) {
	h.broadcastEvent(SummaryReadyEvent{
		Event:       newEvent("summary_ready", time.Now().UTC()),
		RecordingID: recordingID,
		Summary:     summary,
		Status:      status,
	})
}

func (h *Hub) BroadcastStatusChanged(paused bool) {
	h.broadcastEvent(StatusChangedEvent{
		Event:  newEvent("status_changed", time.Now().UTC()),
		Paused: paused,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("event marshal failed")
		return
	}
	h.Broadcast(payload)
}
