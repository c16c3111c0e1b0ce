package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marginalia/internal/config"
	"marginalia/internal/domain"
	"marginalia/internal/llm"
	"marginalia/internal/prompt"
)

const reviewAsk = "Please write your closing thoughts on this book as a reader's review."

// GenerateLongFormAIReview asks the persona for a long-form review of the
// whole book, fed by the full annotation history rather than one selection.
// An empty 2xx reply degrades to the ellipsis fallback, never an error.
func (e *Engine) GenerateLongFormAIReview(ctx context.Context, cfg config.EngineConfig, book domain.Book, persona domain.Persona) (string, error) {
	start := time.Now()

	annotations, err := e.store.Annotations(ctx, book.ID)
	if err != nil {
		return "", fmt.Errorf("load annotations: %w", err)
	}

	system := systemPrompt(cfg, book, persona, "", lengthReview, annotations)
	turns := []domain.ChatTurn{{Role: domain.RoleUser, Text: reviewAsk}}

	review, err := e.generator.Generate(ctx, cfg, turns, system, nil)
	if err != nil {
		e.metrics.observe("review", start, err)
		return "", err
	}
	if strings.TrimSpace(review) == "" {
		review = fallbackText
	}

	e.metrics.observe("review", start, nil)
	return review, nil
}

// RespondToUserBookReview reacts in character to a review the user wrote.
func (e *Engine) RespondToUserBookReview(ctx context.Context, cfg config.EngineConfig, book domain.Book, persona domain.Persona, userReview string) (string, error) {
	start := time.Now()

	annotations, err := e.store.Annotations(ctx, book.ID)
	if err != nil {
		return "", fmt.Errorf("load annotations: %w", err)
	}

	system := systemPrompt(cfg, book, persona, "", lengthChat, annotations)
	turns := []domain.ChatTurn{{
		Role: domain.RoleUser,
		Text: fmt.Sprintf("I just finished the book and wrote this review:\n\n%s\n\nWhat do you think?", userReview),
	}}

	reply, err := e.generator.Generate(ctx, cfg, turns, system, nil)
	if err != nil {
		e.metrics.observe("review_reply", start, err)
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		reply = fallbackText
	}

	e.metrics.observe("review_reply", start, nil)
	return reply, nil
}

// SoulReport is the persona's structured self-reflection on its reading
// relationship with the user.
type SoulReport struct {
	Mood         string   `json:"mood"`
	Impression   string   `json:"impression"`
	SharedTastes []string `json:"sharedTastes"`
	Wish         string   `json:"wish"`
}

func defaultSoulReport() SoulReport {
	return SoulReport{
		Mood:         "curious",
		Impression:   "We're still getting to know each other through the margins.",
		SharedTastes: []string{"reading together"},
		Wish:         "To hear more of what you think as you read.",
	}
}

const soulReportAsk = `Reflect on your reading relationship with the user and reply with a JSON object:
{"mood": string, "impression": string, "sharedTastes": [string], "wish": string}`

// GenerateSoulReport produces the structured reflection in JSON mode. This
// is an enrichment: a reply that cannot be parsed even after repair falls
// back to a fixed default object instead of surfacing an error. Transport
// failures still propagate.
func (e *Engine) GenerateSoulReport(ctx context.Context, cfg config.EngineConfig, book domain.Book, persona domain.Persona) (SoulReport, error) {
	start := time.Now()

	annotations, err := e.store.Annotations(ctx, book.ID)
	if err != nil {
		return SoulReport{}, fmt.Errorf("load annotations: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s. You have been reading %q alongside the user.\n", persona.Name, book.Title)
	if ltm := prompt.LongTermOrDefault(persona.LongTermMemory); ltm != "" {
		fmt.Fprintf(&sb, "What you remember about the user: %s\n", ltm)
	}
	if cfg.ShortTermMemory {
		fmt.Fprintf(&sb, "Recent discussion:\n%s\n", prompt.FormatShortTermMemory(recentRecords(annotations, persona, cfg.ShortTermMemoryWindow)))
	}

	turns := []domain.ChatTurn{{Role: domain.RoleUser, Text: soulReportAsk}}
	text, err := e.generator.Generate(ctx, cfg, turns, sb.String(), &llm.GenerationOverrides{JSONMode: true})
	if err != nil {
		e.metrics.observe("soul_report", start, err)
		return SoulReport{}, err
	}

	var report SoulReport
	if err := decodeModelJSON(text, &report); err != nil {
		e.logger.Warn("soul report unparsable, using default: %v", err)
		e.metrics.observe("soul_report", start, nil)
		return defaultSoulReport(), nil
	}
	if report.Mood == "" && report.Impression == "" && report.Wish == "" {
		return defaultSoulReport(), nil
	}

	e.metrics.observe("soul_report", start, nil)
	return report, nil
}
