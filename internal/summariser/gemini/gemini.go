package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"github.com/user/meetscribe/internal/transcript"
	"google.golang.org/api/option"
)

type Summariser struct {
	client *genai.Client
	model  string
}

func NewSummariser(apiKey, model string) (*Summariser, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Summariser{
		client: client,
		model:  model,
	}, nil
}

func (g *Summariser) Summarise(ctx context.Context, snap transcript.Snapshot) (string, error) {
	if len(snap.Entries) == 0 {
		return "# Meeting Notes\n\nNo transcript available.", nil
	}

	prompt := buildPrompt(renderTranscript(snap))

	genModel := g.client.GenerativeModel(g.model)
	resp, err := genModel.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no summary generated")
	}

	var summary strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			summary.WriteString(string(text))
		}
	}

	log.Info().
		Str("session_id", snap.SessionID).
		Int("entries", len(snap.Entries)).
		Int("summary_length", summary.Len()).
		Msg("Generated meeting summary")

	return summary.String(), nil
}

// renderTranscript flattens the snapshot into "[time] speaker: text" lines,
// marking gaps and degraded utterances so the model does not invent content
// for missing audio.
func renderTranscript(snap transcript.Snapshot) string {
	var sb strings.Builder

	for _, entry := range snap.Entries {
		if entry.Kind == transcript.KindGap {
			sb.WriteString(fmt.Sprintf("[%s] --- recording gap ---\n", entry.At.Format("15:04:05")))
			continue
		}
		u := entry.Utterance
		speaker := u.Speaker
		if speaker == "" {
			speaker = "Unknown"
		}
		text := u.Text
		if u.Degraded && text == "" {
			text = "(inaudible)"
		}
		sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", u.Start.Format("15:04:05"), speaker, text))
	}

	return sb.String()
}

func buildPrompt(transcriptText string) string {
	return fmt.Sprintf(`You are a meeting assistant. Produce markdown meeting notes from the transcript below.

Structure:
# Meeting Notes
## Summary
## Key Points
## Action Items
## Decisions

Attribute action items to speakers where possible. Lines marked "recording gap" denote lost audio; do not guess what was said there.

Transcript:
%s`, transcriptText)
}

func (g *Summariser) Close() error {
	return g.client.Close()
}
