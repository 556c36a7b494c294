package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxturn/voxturn/internal/metrics"
	"github.com/voxturn/voxturn/internal/transcript"
)

// State is the lifecycle state of the session manager.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateRestarting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateRestarting:
		return "restarting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

const (
	// DefaultRestartInterval recycles the engine session before it hits the
	// engine's own cap (~60s).
	DefaultRestartInterval = 55 * time.Second

	// DefaultResetThreshold is how far, in seconds, a callback's newest raw
	// end time must fall below the observed maximum before it counts as the
	// engine silently starting a new internal block.
	DefaultResetThreshold = 1.0
)

// Commit reasons, used as metric labels.
const (
	restartScheduled      = "scheduled"
	restartTimestampReset = "timestamp_reset"
	restartSessionLength  = "session_length"
	commitStop            = "stop"
)

// Config wires a Manager. Engine is required; everything else is optional.
type Config struct {
	Engine    Engine
	Store     Store
	Publisher Publisher
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger

	PauseThreshold  float64
	RestartInterval time.Duration
	ResetThreshold  float64
}

// Manager owns the live recognition session: it translates engine callbacks
// into the stitched transcript, recycles the bounded engine session before
// it expires, and publishes the merged snapshot after every mutation.
//
// All transcript mutation happens on a single consumer goroutine; engine
// callbacks, the restart timer, and Stop all arrive there as messages.
type Manager struct {
	engine    Engine
	store     Store
	publisher Publisher
	metrics   *metrics.Metrics
	log       zerolog.Logger
	builder   *transcript.Builder

	restartInterval time.Duration
	resetThreshold  float64

	mu          sync.Mutex
	state       State
	recordingID string
	startedAt   time.Time
	snapshot    []transcript.Segment
	committed   int
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewManager builds a Manager from cfg, applying defaults for zero-valued
// tuning knobs.
func NewManager(cfg Config) *Manager {
	if cfg.RestartInterval <= 0 {
		cfg.RestartInterval = DefaultRestartInterval
	}
	if cfg.ResetThreshold <= 0 {
		cfg.ResetThreshold = DefaultResetThreshold
	}

	return &Manager{
		engine:          cfg.Engine,
		store:           cfg.Store,
		publisher:       cfg.Publisher,
		metrics:         cfg.Metrics,
		log:             cfg.Logger,
		builder:         transcript.NewBuilder(cfg.PauseThreshold),
		restartInterval: cfg.RestartInterval,
		resetThreshold:  cfg.ResetThreshold,
	}
}

// Start begins a new recording. Engine availability errors surface here,
// before any pipeline activity; once Start returns nil the session only
// degrades, it does not fail. Starting twice returns ErrAlreadyRunning.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateStarting, StateActive, StateRestarting:
		m.mu.Unlock()
		return ErrAlreadyRunning
	}

	startedAt := time.Now().UTC()
	recordingID := startedAt.Format("20060102150405")
	if recordingID == m.recordingID {
		recordingID = startedAt.Add(time.Second).Format("20060102150405")
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.state = StateStarting
	m.recordingID = recordingID
	m.startedAt = startedAt
	m.snapshot = nil
	m.committed = 0
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	fail := func(err error) error {
		cancel()
		close(done)
		m.mu.Lock()
		m.state = StateIdle
		m.recordingID = ""
		m.cancel = nil
		m.done = nil
		m.mu.Unlock()
		return err
	}

	if m.store != nil {
		if err := m.store.CreateRecording(recordingID, startedAt); err != nil {
			return fail(fmt.Errorf("create recording: %w", err))
		}
	}

	batches := make(chan TokenBatch, 64)
	errs := make(chan error, 16)
	sink := &managerSink{ctx: runCtx, batches: batches, errs: errs}

	if err := m.engine.Start(runCtx, sink); err != nil {
		if m.store != nil {
			_ = m.store.EndRecording(recordingID, time.Now().UTC())
		}
		return fail(fmt.Errorf("start recognition session: %w", err))
	}

	m.mu.Lock()
	m.state = StateActive
	m.mu.Unlock()

	if m.publisher != nil {
		m.publisher.PublishRecordingStarted(recordingID)
	}

	go m.run(runCtx, recordingID, sink, batches, errs, done)
	return nil
}

// Stop ends the recording: any uncommitted window is flushed into the final
// transcript, the engine session is cancelled, and internal state is reset
// so a later Start begins clean. Stop is idempotent.
func (m *Manager) Stop() error {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	<-done

	if err := m.engine.Stop(); err != nil {
		m.log.Warn().Err(err).Msg("engine stop failed")
	}

	m.mu.Lock()
	m.state = StateStopped
	m.done = nil
	m.mu.Unlock()
	return nil
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RecordingID returns the id of the current (or last) recording.
func (m *Manager) RecordingID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordingID
}

// Transcript returns the latest published snapshot: the merged transcript
// plus the length of its append-only committed prefix.
func (m *Manager) Transcript() ([]transcript.Segment, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]transcript.Segment(nil), m.snapshot...), m.committed
}

// run is the single consumer goroutine. It exclusively owns the history;
// nothing else touches it.
func (m *Manager) run(ctx context.Context, recordingID string, sink ResultSink, batches <-chan TokenBatch, errs <-chan error, done chan struct{}) {
	defer close(done)

	history := transcript.NewHistory()
	maxRawEnd := 0.0

	ticker := time.NewTicker(m.restartInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.finish(recordingID, history)
			return

		case batch := <-batches:
			maxRawEnd = m.handleBatch(recordingID, history, batch, maxRawEnd)

		case err := <-errs:
			if errors.Is(err, ErrSessionLengthExceeded) {
				// Recoverable: same as a scheduled restart, just early.
				maxRawEnd = m.restart(ctx, recordingID, sink, history, restartSessionLength)
				ticker.Reset(m.restartInterval)
				continue
			}
			// Degraded mode: the transcript may stall, but the session
			// stays up. See the metrics for visibility.
			m.log.Error().Err(err).Str("recording", recordingID).Msg("engine error, continuing degraded")
			if m.metrics != nil {
				m.metrics.EngineErrors.Inc()
			}

		case <-ticker.C:
			maxRawEnd = m.restart(ctx, recordingID, sink, history, restartScheduled)
		}
	}
}

// handleBatch rebuilds the current window from one engine callback and
// detects silent engine-side timestamp resets.
func (m *Manager) handleBatch(recordingID string, history *transcript.History, batch TokenBatch, maxRawEnd float64) float64 {
	newest := 0.0
	for _, w := range batch.Words {
		if end := w.End(); end > newest {
			newest = end
		}
	}

	if len(batch.Words) > 0 && newest < maxRawEnd-m.resetThreshold {
		// The engine started a new internal block without telling us:
		// commit and advance the offset, out of band from the timer.
		m.commit(recordingID, history, restartTimestampReset)
		maxRawEnd = 0
	}

	history.ReplaceWindow(m.builder.Build(batch.Words, history.Offset()))
	m.publish(recordingID, history)

	if m.metrics != nil {
		if batch.Final {
			m.metrics.TokenBatchesFinal.Inc()
		} else {
			m.metrics.TokenBatchesPartial.Inc()
		}
	}

	if newest > maxRawEnd {
		return newest
	}
	return maxRawEnd
}

// restart commits the window and recycles the engine session. A failed
// recycle leaves the session degraded but alive; the next tick retries.
func (m *Manager) restart(ctx context.Context, recordingID string, sink ResultSink, history *transcript.History, reason string) float64 {
	m.setState(StateRestarting)
	m.commit(recordingID, history, reason)

	if err := m.engine.Stop(); err != nil {
		m.log.Warn().Err(err).Str("reason", reason).Msg("engine stop during restart failed")
	}
	if err := m.engine.Start(ctx, sink); err != nil {
		m.log.Error().Err(err).Str("reason", reason).Msg("engine restart failed, continuing degraded")
		if m.metrics != nil {
			m.metrics.EngineErrors.Inc()
		}
	}

	m.setState(StateActive)
	return 0
}

// commit moves the window into permanent history and hands the newly
// committed segments to the store.
func (m *Manager) commit(recordingID string, history *transcript.History, reason string) {
	moved := history.CommitWindow()
	if m.metrics != nil {
		m.metrics.WindowRestarts.WithLabelValues(reason).Inc()
		m.metrics.SegmentsCommitted.Add(float64(len(moved)))
	}
	if len(moved) == 0 {
		return
	}

	if m.store != nil {
		if err := m.store.SaveSegments(recordingID, moved); err != nil {
			m.log.Error().Err(err).Str("recording", recordingID).Msg("save committed segments failed")
		}
	}
	m.publish(recordingID, history)
}

// finish flushes the remaining window and closes out the recording.
func (m *Manager) finish(recordingID string, history *transcript.History) {
	m.commit(recordingID, history, commitStop)
	m.publish(recordingID, history)

	endedAt := time.Now().UTC()
	if m.store != nil {
		if err := m.store.EndRecording(recordingID, endedAt); err != nil {
			m.log.Error().Err(err).Str("recording", recordingID).Msg("end recording failed")
		}
	}

	m.mu.Lock()
	startedAt := m.startedAt
	m.mu.Unlock()

	if m.publisher != nil {
		m.publisher.PublishRecordingEnded(recordingID, endedAt.Sub(startedAt))
	}
}

// publish snapshots the merged transcript under the mutex, then notifies
// observers. Mutation strictly precedes publication.
func (m *Manager) publish(recordingID string, history *transcript.History) {
	full := history.Full()
	committed := history.CommittedLen()

	m.mu.Lock()
	m.snapshot = full
	m.committed = committed
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.WindowSegments.Set(float64(len(full) - committed))
	}
	if m.publisher != nil {
		m.publisher.PublishTranscript(recordingID, full, committed)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// managerSink forwards engine callbacks onto the consumer's channels
// without ever blocking the calling goroutine. A full queue drops the
// batch; the next callback carries the complete window anyway.
type managerSink struct {
	ctx     context.Context
	batches chan<- TokenBatch
	errs    chan<- error
}

func (s *managerSink) OnTokens(batch TokenBatch) {
	select {
	case <-s.ctx.Done():
	case s.batches <- batch:
	default:
	}
}

func (s *managerSink) OnError(err error) {
	select {
	case <-s.ctx.Done():
	case s.errs <- err:
	default:
	}
}
