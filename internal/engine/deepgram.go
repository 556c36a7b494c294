// Package engine adapts the Deepgram live websocket API to the session
// manager's Engine interface.
package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/voxturn/voxturn/internal/session"
	"github.com/voxturn/voxturn/internal/transcript"
)

// dgConn is the slice of the Deepgram websocket client the engine needs.
type dgConn interface {
	io.Writer
	Connect() bool
	Stop()
}

type Config struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	Logger     zerolog.Logger
}

// Deepgram is a recyclable live recognition session. Stop followed by
// Start opens a fresh websocket; WriteAudio between the two is dropped
// rather than buffered, matching the brief recognition gap a restart
// already implies.
type Deepgram struct {
	cfg Config

	mu   sync.Mutex
	conn dgConn
}

func NewDeepgram(cfg Config) *Deepgram {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Deepgram{cfg: cfg}
}

func (d *Deepgram) Start(ctx context.Context, sink session.ResultSink) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return session.ErrAlreadyRunning
	}
	if d.cfg.APIKey == "" {
		return session.ErrEngineUnavailable
	}

	cOptions := &interfaces.ClientOptions{
		APIKey:          d.cfg.APIKey,
		EnableKeepAlive: true,
	}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.Model,
		Language:       d.cfg.Language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		Encoding:       "linear16",
		SampleRate:     d.cfg.SampleRate,
		Channels:       1,
	}

	cb := &resultCallback{sink: sink, log: d.cfg.Logger}
	conn, err := client.NewWSUsingCallback(ctx, d.cfg.APIKey, cOptions, tOptions, cb)
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrEngineUnavailable, err)
	}
	if ok := conn.Connect(); !ok {
		return session.ErrEngineUnavailable
	}

	d.conn = conn
	return nil
}

// WriteAudio forwards PCM to the live websocket. Audio arriving while no
// session is open is discarded so the capture pipeline never stalls.
func (d *Deepgram) WriteAudio(p []byte) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()

	if conn == nil {
		return nil
	}
	if _, err := conn.Write(p); err != nil {
		return session.NewRecognitionError(err)
	}
	return nil
}

func (d *Deepgram) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}
	d.conn.Stop()
	d.conn = nil
	return nil
}

// resultCallback accumulates finalized words so every batch handed to the
// sink is the complete transcript of the open recognition window, which is
// what the window-replacement model downstream expects.
type resultCallback struct {
	sink session.ResultSink
	log  zerolog.Logger

	mu    sync.Mutex
	final []transcript.WordToken
}

func (c *resultCallback) Message(mr *api.MessageResponse) error {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return nil
	}

	alt := mr.Channel.Alternatives[0]
	words := make([]transcript.WordToken, 0, len(alt.Words))
	for _, w := range alt.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		words = append(words, transcript.WordToken{
			Text:       text,
			Start:      w.Start,
			Duration:   w.End - w.Start,
			Confidence: w.Confidence,
		})
	}

	c.mu.Lock()
	if mr.IsFinal {
		c.final = append(c.final, words...)
		words = append([]transcript.WordToken(nil), c.final...)
	} else {
		words = append(append([]transcript.WordToken(nil), c.final...), words...)
	}
	c.mu.Unlock()

	if len(words) == 0 {
		return nil
	}

	c.sink.OnTokens(session.TokenBatch{Words: words, Final: mr.IsFinal})
	return nil
}

func (c *resultCallback) Open(*api.OpenResponse) error {
	c.log.Debug().Msg("recognition session opened")
	return nil
}

func (c *resultCallback) Metadata(*api.MetadataResponse) error { return nil }

func (c *resultCallback) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (c *resultCallback) UtteranceEnd(*api.UtteranceEndResponse) error { return nil }

func (c *resultCallback) Close(*api.CloseResponse) error {
	c.log.Debug().Msg("recognition session closed")
	return nil
}

func (c *resultCallback) Error(er *api.ErrorResponse) error {
	if er == nil {
		return nil
	}
	c.sink.OnError(classifyError(er.ErrCode, er.Description))
	return nil
}

func (c *resultCallback) UnhandledEvent([]byte) error { return nil }

// classifyError maps provider error codes onto the session error taxonomy.
// Only session-length expiry is actionable upstream; everything else is
// reported as a plain recognition error and tolerated.
func classifyError(code, description string) error {
	lower := strings.ToLower(code + " " + description)
	switch {
	case strings.Contains(lower, "1011") || strings.Contains(lower, "timeout") || strings.Contains(lower, "net-0001"):
		return session.NewRecognitionError(session.ErrSessionLengthExceeded)
	case strings.Contains(lower, "auth") || strings.Contains(lower, "401") || strings.Contains(lower, "403"):
		return session.NewRecognitionError(session.ErrEngineUnavailable)
	default:
		return session.NewRecognitionError(fmt.Errorf("engine error %s: %s", code, description))
	}
}
