// Package summary hands a speaker-resolved transcript to an LLM for
// summarisation.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/voxlabel/internal/speaker"
	"github.com/MrWong99/voxlabel/pkg/provider/llm"
)

// ErrTranscriptTooLong is returned when the prompt would not fit the model's
// context window.
var ErrTranscriptTooLong = errors.New("summary: transcript exceeds the model context window")

const summaryPrompt = `Summarise the following meeting transcript.
The speaker legend maps each raw transcription label to the participant's name and role.
Attribute statements, decisions and action items to the named participants.
Be concise but keep every decision and action item.`

// Summariser produces a summary of a transcript.
type Summariser interface {
	// Summarise returns a summary of transcript with speaker labels resolved
	// through mappings.
	Summarise(ctx context.Context, transcript string, mappings []speaker.Mapping) (string, error)
}

// LLMSummariser uses an LLM provider to summarise transcripts.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise implements [Summariser]. An empty transcript yields an empty
// summary without calling the model.
func (s *LLMSummariser) Summarise(ctx context.Context, transcript string, mappings []speaker.Mapping) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", nil
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: summaryPrompt},
		{Role: llm.RoleUser, Content: Prompt(transcript, mappings)},
	}
	if caps := s.llm.Capabilities(); caps.ContextWindow > 0 {
		n, err := s.llm.CountTokens(messages)
		if err != nil {
			return "", fmt.Errorf("summary: count tokens: %w", err)
		}
		if budget := caps.ContextWindow - caps.MaxOutputTokens; n > budget {
			return "", fmt.Errorf("%w: %d tokens, budget %d", ErrTranscriptTooLong, n, budget)
		}
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summaryPrompt,
		Messages:     messages[1:],
		Temperature:  0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summary: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Content, nil
}

// Prompt renders the user message: a legend of the named speakers followed
// by the transcript with their labels resolved.
func Prompt(transcript string, mappings []speaker.Mapping) string {
	var sb strings.Builder
	named := 0
	for _, m := range mappings {
		if strings.TrimSpace(m.Name) == "" {
			continue
		}
		if named == 0 {
			sb.WriteString("Speakers:\n")
		}
		named++
		fmt.Fprintf(&sb, "- %s: %s\n", m.SpeakerID, speaker.Label(m))
	}
	if named > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString("Transcript:\n")
	sb.WriteString(speaker.Resolve(transcript, mappings))
	return sb.String()
}
