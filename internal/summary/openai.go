// Package summary produces markdown summaries of finished recordings.
package summary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/voxturn/voxturn/internal/transcript"
)

type IdempotencyStore interface {
	ClaimSummaryRequest(recordingID, promptHash string) (bool, error)
}

type OpenAI struct {
	client *openai.Client
	model  string
	store  IdempotencyStore
	sleep  func(time.Duration)
}

func NewOpenAI(apiKey, model string, store IdempotencyStore) *OpenAI {
	config := openai.DefaultConfig(apiKey)
	return NewOpenAIWithConfig(config, model, store)
}

func NewOpenAIWithConfig(config openai.ClientConfig, model string, store IdempotencyStore) *OpenAI {
	if strings.TrimSpace(model) == "" {
		model = "gpt-4o-mini"
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(config),
		model:  model,
		store:  store,
		sleep:  time.Sleep,
	}
}

// Summarize produces a markdown summary of a speaker-attributed transcript.
// Trivially short transcripts are skipped, and a content hash claim keeps a
// retried recording-end from paying for the same completion twice.
func (s *OpenAI) Summarize(ctx context.Context, recordingID, conversation string) (string, error) {
	if len(strings.Fields(conversation)) < 20 {
		return "", nil
	}

	hash := sha256.Sum256([]byte(conversation))
	promptHash := hex.EncodeToString(hash[:])

	if s.store != nil {
		claimed, err := s.store.ClaimSummaryRequest(recordingID, promptHash)
		if err != nil {
			return "", fmt.Errorf("claim summary request: %w", err)
		}
		if !claimed {
			return "", nil
		}
	}

	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "Summarize the following speaker-attributed conversation transcript concisely in markdown. Include key topics, who said what where it matters, decisions made, and action items if any.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: conversation,
			},
		},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := 0; attempt < len(backoff); attempt++ {
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", nil
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}

		lastErr = err
		if attempt < len(backoff)-1 {
			s.sleep(backoff[attempt])
		}
	}

	return "", fmt.Errorf("openai summary failed after retries: %w", lastErr)
}

// FormatConversation renders segments as prompt input, one line per
// segment, using display labels where speakers have been renamed.
func FormatConversation(segments []transcript.Segment, labels map[int]string) string {
	var b strings.Builder
	for _, seg := range segments {
		name := fmt.Sprintf("Speaker %d", seg.Speaker)
		if seg.Speaker == transcript.UnknownSpeaker {
			name = "Unknown"
		} else if label, ok := labels[seg.Speaker]; ok && label != "" {
			name = label
		}
		fmt.Fprintf(&b, "%s: %s\n", name, seg.Text)
	}
	return b.String()
}
