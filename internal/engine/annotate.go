package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"marginalia/internal/config"
	"marginalia/internal/domain"
	"marginalia/internal/errors"
	"marginalia/internal/llm"
	"marginalia/internal/prompt"
)

// ThinkingTopic marks an optimistic placeholder while its generating call is
// in flight. Hosts render it as a "thinking" indicator.
const ThinkingTopic = "…"

// TopicMaxRunes is the hard cap applied to topic labels. Topics are UI
// labels, so unlike every other length budget this one is enforced.
const TopicMaxRunes = 16

const annotationAsk = "Please jot down your thought about the sentence in focus, as a margin note."

// GenerateAIAnnotation reacts to a user text selection: it inserts an
// optimistic placeholder immediately, generates the persona's comment, then
// replaces the placeholder in place. On any failure the placeholder is
// removed entirely, so no partial record survives, and the error is returned
// for the host to surface.
func (e *Engine) GenerateAIAnnotation(ctx context.Context, cfg config.EngineConfig, book domain.Book, persona domain.Persona, selection string) (domain.Annotation, error) {
	start := time.Now()

	placeholder := domain.Annotation{
		ID:            domain.NewID(),
		BookID:        book.ID,
		TextSelection: selection,
		Author:        domain.AuthorAI,
		Topic:         ThinkingTopic,
		Timestamp:     time.Now(),
		PersonaID:     persona.ID,
	}

	if err := e.coord.Begin(placeholder.ID); err != nil {
		return domain.Annotation{}, err
	}
	defer e.coord.Finish(placeholder.ID)

	annotations, err := e.store.Annotations(ctx, book.ID)
	if err != nil {
		return domain.Annotation{}, fmt.Errorf("load annotations: %w", err)
	}

	// Optimistic insert: the placeholder is visible before the network call.
	if err := e.store.ReplaceAnnotations(ctx, book.ID, append(domain.CloneAnnotations(annotations), placeholder)); err != nil {
		return domain.Annotation{}, fmt.Errorf("insert placeholder: %w", err)
	}

	final, genErr := e.generateComment(ctx, cfg, book, persona, selection, annotations, placeholder)
	if genErr != nil {
		e.rollbackPlaceholder(ctx, book.ID, placeholder.ID)
		e.metrics.observe("annotate", start, genErr)
		return domain.Annotation{}, genErr
	}

	if err := e.replaceByID(ctx, book.ID, placeholder.ID, final); err != nil {
		e.metrics.observe("annotate", start, err)
		return domain.Annotation{}, err
	}

	e.metrics.observe("annotate", start, nil)
	return final, nil
}

// generateComment runs the annotation call and builds the finalized record.
// An empty reply on this path is a hard failure: the placeholder must not be
// finalized with nothing in it.
func (e *Engine) generateComment(ctx context.Context, cfg config.EngineConfig, book domain.Book, persona domain.Persona, selection string, prior []domain.Annotation, placeholder domain.Annotation) (domain.Annotation, error) {
	system := systemPrompt(cfg, book, persona, selection, lengthAnnotation, prior)
	turns := []domain.ChatTurn{{Role: domain.RoleUser, Text: annotationAsk}}

	comment, err := e.generator.Generate(ctx, cfg, turns, system, nil)
	if err != nil {
		return domain.Annotation{}, err
	}
	if strings.TrimSpace(comment) == "" {
		return domain.Annotation{}, errors.NewPermanentError(
			fmt.Errorf("empty annotation reply"),
			"The AI returned an empty comment. Please try again.")
	}

	final := placeholder
	final.Comment = comment
	final.Topic = e.SummarizeTopic(ctx, cfg, comment)
	final.Timestamp = time.Now()
	final.ChatHistory = []domain.ChatTurn{{Role: domain.RoleModel, Text: comment}}
	return final, nil
}

// SummarizeTopic derives a short label for a comment. This is the one path
// with an enforced budget: the result is hard-truncated because topics are
// rendered as UI chips. Failures degrade to a truncation of the input, never
// an error, since topics are an enrichment rather than critical path.
func (e *Engine) SummarizeTopic(ctx context.Context, cfg config.EngineConfig, text string) string {
	system := fmt.Sprintf("Summarize the user's text as a topic label of at most %d characters. Reply with the label only.", TopicMaxRunes)
	turns := []domain.ChatTurn{{Role: domain.RoleUser, Text: text}}

	low := 0.3
	label, err := e.generator.Generate(ctx, cfg, turns, system, &llm.GenerationOverrides{Temperature: &low})
	if err != nil || strings.TrimSpace(label) == "" {
		if err != nil {
			e.logger.Debug("topic summarization failed, truncating instead: %v", err)
		}
		return prompt.Truncate(prompt.NormalizeWhitespace(text), TopicMaxRunes)
	}
	return prompt.Truncate(prompt.NormalizeWhitespace(label), TopicMaxRunes)
}

// AutonomousScan proactively picks excerpts from the visible page and
// generates persona commentary for each, deduplicating against existing
// annotations by exact selection text. It is a fire-and-forget background
// job: it is not tied to the per-id pending set, and an unparsable excerpt
// list aborts the scan silently.
func (e *Engine) AutonomousScan(ctx context.Context, cfg config.EngineConfig, book domain.Book, persona domain.Persona, pageText string) ([]domain.Annotation, error) {
	start := time.Now()

	count := cfg.AutoAnnotationCount
	if count <= 0 {
		return nil, nil
	}

	excerpts, err := e.pickExcerpts(ctx, cfg, pageText, count)
	if err != nil {
		e.metrics.observe("scan", start, err)
		return nil, err
	}
	if len(excerpts) == 0 {
		return nil, nil
	}

	existing, err := e.store.Annotations(ctx, book.ID)
	if err != nil {
		return nil, fmt.Errorf("load annotations: %w", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, ann := range existing {
		seen[ann.TextSelection] = true
	}

	results := make([]domain.Annotation, len(excerpts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(2)

	for i, excerpt := range excerpts {
		if seen[excerpt] || !strings.Contains(pageText, excerpt) {
			continue
		}
		g.Go(func() error {
			system := systemPrompt(cfg, book, persona, excerpt, lengthAnnotation, existing)
			turns := []domain.ChatTurn{{Role: domain.RoleUser, Text: annotationAsk}}
			comment, genErr := e.generator.Generate(gctx, cfg, turns, system, nil)
			if genErr != nil {
				return genErr
			}
			if strings.TrimSpace(comment) == "" {
				return nil // skip, soft miss
			}
			results[i] = domain.Annotation{
				ID:            domain.NewID(),
				BookID:        book.ID,
				TextSelection: excerpt,
				Author:        domain.AuthorAI,
				Comment:       comment,
				Topic:         e.SummarizeTopic(gctx, cfg, comment),
				Timestamp:     time.Now(),
				PersonaID:     persona.ID,
				IsAutonomous:  true,
				ChatHistory:   []domain.ChatTurn{{Role: domain.RoleModel, Text: comment}},
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		e.metrics.observe("scan", start, err)
		return nil, err
	}

	// Re-read and dedup again at insert: another writer may have annotated
	// the same excerpt while the scan was running.
	current, err := e.store.Annotations(ctx, book.ID)
	if err != nil {
		return nil, fmt.Errorf("load annotations: %w", err)
	}
	seen = make(map[string]bool, len(current))
	for _, ann := range current {
		seen[ann.TextSelection] = true
	}

	updated := domain.CloneAnnotations(current)
	var added []domain.Annotation
	for _, ann := range results {
		if ann.ID == "" || seen[ann.TextSelection] {
			continue
		}
		updated = append(updated, ann)
		added = append(added, ann)
		seen[ann.TextSelection] = true
	}
	if len(added) == 0 {
		return nil, nil
	}
	if err := e.store.ReplaceAnnotations(ctx, book.ID, updated); err != nil {
		return nil, fmt.Errorf("store scan results: %w", err)
	}

	e.metrics.observe("scan", start, nil)
	return added, nil
}

// rollbackPlaceholder removes an optimistic placeholder after a failed
// generation. A rollback failure is logged, not returned, because the
// generation error is the one the caller needs. The store calls run detached
// from ctx's cancellation: when the generation was aborted by the user, the
// request context is already dead, and the placeholder must still come out.
func (e *Engine) rollbackPlaceholder(ctx context.Context, bookID, annotationID string) {
	ctx = context.WithoutCancel(ctx)
	annotations, err := e.store.Annotations(ctx, bookID)
	if err != nil {
		e.logger.Warn("rollback: load annotations: %v", err)
		return
	}
	kept := make([]domain.Annotation, 0, len(annotations))
	for _, ann := range annotations {
		if ann.ID != annotationID {
			kept = append(kept, ann)
		}
	}
	if err := e.store.ReplaceAnnotations(ctx, bookID, kept); err != nil {
		e.logger.Warn("rollback: replace annotations: %v", err)
	}
}

// replaceByID swaps one record in the collection, preserving order.
func (e *Engine) replaceByID(ctx context.Context, bookID, annotationID string, record domain.Annotation) error {
	annotations, err := e.store.Annotations(ctx, bookID)
	if err != nil {
		return fmt.Errorf("load annotations: %w", err)
	}
	updated := domain.CloneAnnotations(annotations)
	found := false
	for i := range updated {
		if updated[i].ID == annotationID {
			updated[i] = record
			found = true
			break
		}
	}
	if !found {
		updated = append(updated, record)
	}
	return e.store.ReplaceAnnotations(ctx, bookID, updated)
}
