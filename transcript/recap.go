package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/magpievoice/magpie/llm"
	"github.com/magpievoice/magpie/memory"
)

// ErrNoTurns is returned when a recap is requested for a session with no
// recorded turns.
var ErrNoTurns = errors.New("transcript: no turns to recap")

const recapSystemPrompt = "You summarize voice conversations. Write a short recap " +
	"(2-4 sentences) of the conversation below: what the user wanted, what was " +
	"discussed, and anything left open. Write plainly, no preamble."

// RecapGeneratorConfig holds configuration for recap generation.
type RecapGeneratorConfig struct {
	Model     string
	MaxTokens int64
}

// RecapGenerator produces a short recap of a finished session's transcript
// and persists it alongside the session.
type RecapGenerator struct {
	client llm.Client
	store  *Store
	cfg    RecapGeneratorConfig
	logger zerolog.Logger
}

// NewRecapGenerator creates a recap generator over the given LLM client.
func NewRecapGenerator(client llm.Client, store *Store, cfg RecapGeneratorConfig, logger zerolog.Logger) *RecapGenerator {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &RecapGenerator{
		client: client,
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "recapGenerator").Logger(),
	}
}

// Generate loads the session's turns, summarizes them, and saves the recap.
func (g *RecapGenerator) Generate(ctx context.Context, sessionID string) (Recap, error) {
	turns, err := g.store.ListTurns(ctx, sessionID)
	if err != nil {
		return Recap{}, fmt.Errorf("load turns: %w", err)
	}
	if len(turns) == 0 {
		return Recap{}, ErrNoTurns
	}

	temperature := 0.3
	req := &llm.Request{
		Model:       g.cfg.Model,
		System:      recapSystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Text: renderTranscript(turns)}},
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: &temperature,
	}

	resp, err := g.client.Synchronous(ctx, req)
	if err != nil {
		return Recap{}, fmt.Errorf("recap request: %w", err)
	}

	summary := strings.TrimSpace(resp.Text)
	if summary == "" {
		return Recap{}, fmt.Errorf("recap request returned no text")
	}

	recap := Recap{
		SessionID: sessionID,
		Summary:   summary,
		Model:     g.cfg.Model,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.store.SaveRecap(ctx, recap); err != nil {
		return Recap{}, fmt.Errorf("save recap: %w", err)
	}

	g.logger.Info().
		Str("sessionID", sessionID).
		Int("turns", len(turns)).
		Int("summary_chars", len(summary)).
		Msg("Session recap saved")
	return recap, nil
}

// renderTranscript flattens turns into the text form sent to the model.
func renderTranscript(turns []memory.ConversationTurn) string {
	var b strings.Builder
	for _, turn := range turns {
		switch turn.Role {
		case memory.RoleUser:
			b.WriteString("User: ")
		case memory.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			b.WriteString(string(turn.Role) + ": ")
		}
		b.WriteString(turn.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}
