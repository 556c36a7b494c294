package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/voxturn/voxturn/internal/audio"
	"github.com/voxturn/voxturn/internal/config"
	"github.com/voxturn/voxturn/internal/diarize"
	"github.com/voxturn/voxturn/internal/engine"
	"github.com/voxturn/voxturn/internal/gdrive"
	"github.com/voxturn/voxturn/internal/logging"
	"github.com/voxturn/voxturn/internal/metrics"
	"github.com/voxturn/voxturn/internal/server"
	"github.com/voxturn/voxturn/internal/session"
	"github.com/voxturn/voxturn/internal/storage"
	"github.com/voxturn/voxturn/internal/summary"
	"github.com/voxturn/voxturn/internal/transcript"
)

//go:embed static/*
var staticFiles embed.FS

// gateWriter drops audio while paused. The capture producer keeps running
// so resume is instant.
type gateWriter struct {
	dst    io.Writer
	mu     sync.RWMutex
	paused bool
}

func (g *gateWriter) Write(p []byte) (int, error) {
	g.mu.RLock()
	paused := g.paused
	g.mu.RUnlock()
	if paused {
		return len(p), nil
	}
	return g.dst.Write(p)
}

func (g *gateWriter) SetPaused(paused bool) {
	g.mu.Lock()
	g.paused = paused
	g.mu.Unlock()
}

func (g *gateWriter) IsPaused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// pipelineStore persists through sqlite, mirrors committed segments to
// markdown, and kicks off post-processing when a recording ends.
type pipelineStore struct {
	db     *storage.SQLiteStore
	writer *storage.Writer
	onEnd  func(recordingID string)
	wg     sync.WaitGroup
	log    zerolog.Logger
}

func (p *pipelineStore) CreateRecording(id string, startedAt time.Time) error {
	return p.db.CreateRecording(id, startedAt)
}

func (p *pipelineStore) SaveSegments(recordingID string, segments []transcript.Segment) error {
	if err := p.db.SaveSegments(recordingID, segments); err != nil {
		return err
	}
	if err := p.writer.Append(recordingID, segments); err != nil {
		p.log.Warn().Err(err).Msg("markdown mirror write failed")
	}
	return nil
}

func (p *pipelineStore) EndRecording(id string, endedAt time.Time) error {
	if err := p.db.EndRecording(id, endedAt); err != nil {
		return err
	}
	if p.onEnd != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.onEnd(id)
		}()
	}
	return nil
}

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to config.yaml")
	diarizeFile := flag.String("diarize", "", "run speaker detection on a WAV file and exit")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.WithComponent("main")
	for _, w := range warnings {
		log.Warn().Msg(w)
	}

	if *diarizeFile != "" {
		os.Exit(runDiarizeFile(cfg, *diarizeFile))
	}

	log.Info().Msg("voxturn starting")

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("storage init failed")
	}
	defer func() { _ = store.Close() }()

	mdWriter := storage.NewWriter(cfg.TranscriptDir)
	hub := server.NewHub(logging.WithComponent("hub"))
	recorder := audio.NewRecorder(cfg.AudioDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var summarizer *summary.OpenAI
	if cfg.OpenAIAPIKey != "" {
		summarizer = summary.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel, store)
	}

	var archiver *gdrive.Archiver
	if cfg.GDriveFolderID != "" {
		archiver, err = gdrive.NewArchiver(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if err != nil {
			log.Warn().Err(err).Msg("gdrive archive disabled")
			archiver = nil
		}
	}

	segmenter := diarize.NewSegmenter(diarize.Config{
		EnergyThresholdDB:    cfg.EnergyThresholdDB,
		MinSpeechDuration:    cfg.MinSpeech,
		MinPauseDuration:     cfg.MinPause,
		SpeakerChangeDeltaDB: cfg.SpeakerDeltaDB,
	})

	pStore := &pipelineStore{
		db:     store,
		writer: mdWriter,
		log:    logging.WithComponent("pipeline"),
	}
	pStore.onEnd = func(recordingID string) {
		postProcess(ctx, recordingID, store, mdWriter, recorder, segmenter, summarizer, archiver, hub, cfg.DBPath)
	}

	var mic *audio.Mic
	selectedSampleRate := 16000

	if err := portaudio.Initialize(); err != nil {
		log.Warn().Err(err).Msg("portaudio unavailable, running API/UI only")
	} else {
		defer func() { _ = portaudio.Terminate() }()
		for _, rate := range cfg.SampleRateCandidates() {
			mic, err = audio.NewMic(rate, 4096)
			if err != nil {
				log.Warn().Int("rate", rate).Err(err).Msg("microphone open failed")
				continue
			}
			selectedSampleRate = rate
			break
		}
	}
	recorder.SetSampleRate(selectedSampleRate)

	dg := engine.NewDeepgram(engine.Config{
		APIKey:     cfg.DeepgramAPIKey,
		SampleRate: selectedSampleRate,
		Logger:     logging.WithComponent("engine"),
	})

	manager := session.NewManager(session.Config{
		Engine:          dg,
		Store:           pStore,
		Publisher:       hub,
		Metrics:         metrics.Default,
		Logger:          logging.WithComponent("session"),
		PauseThreshold:  cfg.PauseThreshold,
		RestartInterval: cfg.ParsedRestartInterval(),
		ResetThreshold:  cfg.ResetThreshold,
	})

	gate := &gateWriter{dst: recorder.Writer(writerFunc(func(p []byte) (int, error) {
		metrics.Default.AudioBytesCaptured.Add(float64(len(p)))
		if err := dg.WriteAudio(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}))}

	assets, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatal().Err(err).Msg("static assets init failed")
	}

	handler := server.Handler(assets, hub, store, server.ControlHooks{
		Pause:    func() { gate.SetPaused(true) },
		Resume:   func() { gate.SetPaused(false) },
		IsPaused: gate.IsPaused,
		Warnings: func() []string { return warnings },
		OnStatusChanged: func(paused bool) {
			hub.BroadcastStatusChanged(paused)
		},
	}, logging.WithComponent("server"))

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: handler}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	if mic != nil && cfg.DeepgramAPIKey != "" {
		if err := manager.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("recognition unavailable, running API/UI only")
		} else {
			if err := recorder.StartRecording(manager.RecordingID()); err != nil {
				log.Warn().Err(err).Msg("audio capture to disk disabled")
			}

			nbw := audio.NewNonBlockingWriter(gate, 0)
			if err := mic.Start(); err != nil {
				log.Warn().Err(err).Msg("microphone start failed, running API/UI only")
			} else {
				log.Info().Int("rate", selectedSampleRate).Msg("microphone started")
				go streamMicWithRetry(ctx, mic, nbw, time.Sleep, logging.WithComponent("mic"))
			}
		}
	} else {
		log.Warn().Msg("microphone or engine unavailable, running API/UI only")
	}

	log.Info().Str("addr", cfg.ListenAddr).Msg("web UI listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("voxturn shutting down")
	if err := manager.Stop(); err != nil {
		log.Warn().Err(err).Msg("session stop failed")
	}

	if mic != nil {
		_ = mic.Stop()
	}

	// Give post-processing a bounded window to land diarization and
	// summary before the root context is cancelled on exit.
	waitDone := make(chan struct{})
	go func() {
		pStore.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("post-processing timed out")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown failed")
	}
}

// postProcess finishes a recording off the hot path: finalize the WAV,
// run speaker detection, align attributions onto the stored transcript,
// summarize, and archive.
func postProcess(
	ctx context.Context,
	recordingID string,
	store *storage.SQLiteStore,
	mdWriter *storage.Writer,
	recorder *audio.Recorder,
	segmenter *diarize.Segmenter,
	summarizer *summary.OpenAI,
	archiver *gdrive.Archiver,
	hub *server.Hub,
	dbPath string,
) {
	log := logging.WithRecording("postprocess", recordingID)

	wavPath, err := recorder.EndRecording()
	if err != nil {
		log.Error().Err(err).Msg("finalize audio failed")
	}
	if wavPath != "" {
		if err := store.SetAudioPath(recordingID, wavPath); err != nil {
			log.Error().Err(err).Msg("record audio path failed")
		}
	}

	segments, err := store.GetSegments(recordingID)
	if err != nil {
		log.Error().Err(err).Msg("load segments failed")
		return
	}

	if wavPath != "" {
		metrics.Default.DiarizationRuns.Inc()
		speakers, err := segmenter.DetectFile(wavPath)
		if err != nil {
			metrics.Default.DiarizationFailures.Inc()
			log.Warn().Err(err).Msg("speaker detection failed")
		} else {
			segments = diarize.Align(segments, speakers)
			if err := store.UpdateSegmentSpeakers(recordingID, segments); err != nil {
				log.Error().Err(err).Msg("store speaker attribution failed")
			}
			if err := store.SaveSpeakerSegments(recordingID, speakers); err != nil {
				log.Error().Err(err).Msg("store speaker segments failed")
			}
			if err := mdWriter.Rewrite(recordingID, segments); err != nil {
				log.Warn().Err(err).Msg("markdown rewrite failed")
			}

			count := diarize.SpeakerCount(speakers)
			metrics.Default.SpeakersDetected.Set(float64(count))
			hub.BroadcastSpeakersReady(recordingID, count, diarize.TurnChanges(speakers))
		}
	}

	if summarizer != nil {
		labels, err := store.GetSpeakerLabels(recordingID)
		if err != nil {
			log.Warn().Err(err).Msg("load speaker labels failed")
		}

		text, err := summarizer.Summarize(ctx, recordingID, summary.FormatConversation(segments, labels))
		status := storage.SummaryCompleted
		if err != nil {
			log.Error().Err(err).Msg("summary failed")
			status = storage.SummaryFailed
		}
		if text != "" || err != nil {
			if err := store.UpdateSummary(recordingID, text, status); err != nil {
				log.Error().Err(err).Msg("store summary failed")
			}
			hub.BroadcastSummaryReady(recordingID, text, status)
		}
	}

	if archiver != nil {
		if err := archiver.ArchiveRecording(recordingID, mdWriter.Path(recordingID), wavPath); err != nil {
			log.Warn().Err(err).Msg("archive recording failed")
		}
		if err := archiver.ArchiveDatabase(dbPath); err != nil {
			log.Warn().Err(err).Msg("archive database failed")
		}
	}
}

func runDiarizeFile(cfg config.Config, path string) int {
	segmenter := diarize.NewSegmenter(diarize.Config{
		EnergyThresholdDB:    cfg.EnergyThresholdDB,
		MinSpeechDuration:    cfg.MinSpeech,
		MinPauseDuration:     cfg.MinPause,
		SpeakerChangeDeltaDB: cfg.SpeakerDeltaDB,
	})

	speakers, err := segmenter.DetectFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "speaker detection failed: %v\n", err)
		return 1
	}

	for _, seg := range speakers {
		fmt.Printf("speaker %d  %8.2fs - %8.2fs\n", seg.Speaker, seg.Start, seg.End)
	}
	fmt.Printf("%d speaker(s), %d segment(s)\n", diarize.SpeakerCount(speakers), len(speakers))
	return 0
}

type micStreamer interface {
	Stream(writer io.Writer) error
}

func streamMicWithRetry(
	ctx context.Context,
	streamer micStreamer,
	writer io.Writer,
	wait func(time.Duration),
	log zerolog.Logger,
) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := streamer.Stream(writer)
		if err == nil || ctx.Err() != nil {
			return
		}

		if strings.Contains(strings.ToLower(err.Error()), "overflow") {
			log.Warn().Msg("mic input overflow, restarting stream")
			wait(250 * time.Millisecond)
			continue
		}

		log.Error().Err(err).Msg("mic stream error")
		return
	}
}
