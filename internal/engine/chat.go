package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"marginalia/internal/config"
	"marginalia/internal/domain"
	"marginalia/internal/errors"
)

// ChatWithPersona appends a user turn to an annotation's chat thread and
// generates the persona's reply. The user turn is shown optimistically; if
// the generation fails, exactly one fallback apology turn is appended in
// place of the reply and the error is still returned so the host can signal
// it. Concurrent triggers for the same annotation are rejected with ErrBusy.
func (e *Engine) ChatWithPersona(ctx context.Context, cfg config.EngineConfig, book domain.Book, persona domain.Persona, annotationID, message string, parts []domain.InlinePart) (domain.ChatTurn, error) {
	start := time.Now()

	if err := e.coord.Begin(annotationID); err != nil {
		return domain.ChatTurn{}, err
	}
	defer e.coord.Finish(annotationID)

	annotations, err := e.store.Annotations(ctx, book.ID)
	if err != nil {
		return domain.ChatTurn{}, fmt.Errorf("load annotations: %w", err)
	}
	target, ok := findByID(annotations, annotationID)
	if !ok {
		return domain.ChatTurn{}, errors.NewPermanentError(
			fmt.Errorf("annotation %s not found", annotationID),
			"That note no longer exists.")
	}

	userTurn := domain.ChatTurn{Role: domain.RoleUser, Text: message, Parts: parts}

	// Optimistic append: the user sees their own message before the call.
	if err := e.appendTurns(ctx, book.ID, annotationID, userTurn); err != nil {
		return domain.ChatTurn{}, err
	}

	// The dispatched history is built locally from the pre-append snapshot
	// plus the new turn, not re-read from the mutated record.
	history := append(append([]domain.ChatTurn(nil), target.ChatHistory...), userTurn)
	system := systemPrompt(cfg, book, persona, target.TextSelection, lengthChat, annotations)

	reply, genErr := e.generator.Generate(ctx, cfg, history, system, nil)
	if genErr != nil {
		if errors.IsCancellation(genErr) {
			// The user navigated away; leave the thread as-is.
			e.metrics.observe("chat", start, genErr)
			return domain.ChatTurn{}, genErr
		}
		apology := domain.ChatTurn{Role: domain.RoleModel, Text: fallbackApology}
		if appendErr := e.appendTurns(ctx, book.ID, annotationID, apology); appendErr != nil {
			e.logger.Warn("append fallback reply: %v", appendErr)
		}
		e.metrics.observe("chat", start, genErr)
		return apology, genErr
	}
	if strings.TrimSpace(reply) == "" {
		reply = fallbackText
	}

	modelTurn := domain.ChatTurn{Role: domain.RoleModel, Text: reply}
	if err := e.appendTurns(ctx, book.ID, annotationID, modelTurn); err != nil {
		e.metrics.observe("chat", start, err)
		return domain.ChatTurn{}, err
	}

	e.metrics.observe("chat", start, nil)
	return modelTurn, nil
}

// RewriteLastReply regenerates the persona's most recent turn in a thread.
// The old reply is dropped before dispatch so the model cannot anchor on it,
// and no new user turn is added.
func (e *Engine) RewriteLastReply(ctx context.Context, cfg config.EngineConfig, book domain.Book, persona domain.Persona, annotationID string) (domain.ChatTurn, error) {
	start := time.Now()

	if err := e.coord.Begin(annotationID); err != nil {
		return domain.ChatTurn{}, err
	}
	defer e.coord.Finish(annotationID)

	annotations, err := e.store.Annotations(ctx, book.ID)
	if err != nil {
		return domain.ChatTurn{}, fmt.Errorf("load annotations: %w", err)
	}
	target, ok := findByID(annotations, annotationID)
	if !ok {
		return domain.ChatTurn{}, errors.NewPermanentError(
			fmt.Errorf("annotation %s not found", annotationID),
			"That note no longer exists.")
	}
	n := len(target.ChatHistory)
	if n == 0 || target.ChatHistory[n-1].Role != domain.RoleModel {
		return domain.ChatTurn{}, errors.NewPermanentError(
			fmt.Errorf("no model turn to rewrite"),
			"There is no reply to rewrite yet.")
	}

	trimmed := append([]domain.ChatTurn(nil), target.ChatHistory[:n-1]...)
	if err := e.setHistory(ctx, book.ID, annotationID, trimmed); err != nil {
		return domain.ChatTurn{}, err
	}

	system := systemPrompt(cfg, book, persona, target.TextSelection, lengthChat, annotations)
	reply, genErr := e.generator.Generate(ctx, cfg, trimmed, system, nil)
	if genErr != nil {
		if errors.IsCancellation(genErr) {
			// Put the dropped reply back so a cancelled rewrite leaves the
			// thread exactly as it was. The request context is already dead
			// here, so the restore runs detached from it.
			if restoreErr := e.setHistory(context.WithoutCancel(ctx), book.ID, annotationID, target.ChatHistory); restoreErr != nil {
				e.logger.Warn("restore dropped reply: %v", restoreErr)
			}
			e.metrics.observe("rewrite", start, genErr)
			return domain.ChatTurn{}, genErr
		}
		apology := domain.ChatTurn{Role: domain.RoleModel, Text: fallbackApology}
		if appendErr := e.appendTurns(ctx, book.ID, annotationID, apology); appendErr != nil {
			e.logger.Warn("append fallback reply: %v", appendErr)
		}
		e.metrics.observe("rewrite", start, genErr)
		return apology, genErr
	}
	if strings.TrimSpace(reply) == "" {
		reply = fallbackText
	}

	modelTurn := domain.ChatTurn{Role: domain.RoleModel, Text: reply}
	if err := e.appendTurns(ctx, book.ID, annotationID, modelTurn); err != nil {
		e.metrics.observe("rewrite", start, err)
		return domain.ChatTurn{}, err
	}

	e.metrics.observe("rewrite", start, nil)
	return modelTurn, nil
}

// GenerateAIResponseToUserNote replies to a margin note the user wrote. The
// user's comment seeds the thread as its first turn, then the flow is the
// same as a chat reply: optimistic state, apology turn on failure.
func (e *Engine) GenerateAIResponseToUserNote(ctx context.Context, cfg config.EngineConfig, book domain.Book, persona domain.Persona, annotationID string) (domain.ChatTurn, error) {
	start := time.Now()

	if err := e.coord.Begin(annotationID); err != nil {
		return domain.ChatTurn{}, err
	}
	defer e.coord.Finish(annotationID)

	annotations, err := e.store.Annotations(ctx, book.ID)
	if err != nil {
		return domain.ChatTurn{}, fmt.Errorf("load annotations: %w", err)
	}
	target, ok := findByID(annotations, annotationID)
	if !ok {
		return domain.ChatTurn{}, errors.NewPermanentError(
			fmt.Errorf("annotation %s not found", annotationID),
			"That note no longer exists.")
	}

	history := append([]domain.ChatTurn(nil), target.ChatHistory...)
	if len(history) == 0 && target.Comment != "" {
		seed := domain.ChatTurn{Role: domain.RoleUser, Text: target.Comment}
		if err := e.appendTurns(ctx, book.ID, annotationID, seed); err != nil {
			return domain.ChatTurn{}, err
		}
		history = append(history, seed)
	}

	system := systemPrompt(cfg, book, persona, target.TextSelection, lengthChat, annotations)
	reply, genErr := e.generator.Generate(ctx, cfg, history, system, nil)
	if genErr != nil {
		if errors.IsCancellation(genErr) {
			e.metrics.observe("respond", start, genErr)
			return domain.ChatTurn{}, genErr
		}
		apology := domain.ChatTurn{Role: domain.RoleModel, Text: fallbackApology}
		if appendErr := e.appendTurns(ctx, book.ID, annotationID, apology); appendErr != nil {
			e.logger.Warn("append fallback reply: %v", appendErr)
		}
		e.metrics.observe("respond", start, genErr)
		return apology, genErr
	}
	if strings.TrimSpace(reply) == "" {
		reply = fallbackText
	}

	modelTurn := domain.ChatTurn{Role: domain.RoleModel, Text: reply}
	if err := e.appendTurns(ctx, book.ID, annotationID, modelTurn); err != nil {
		e.metrics.observe("respond", start, err)
		return domain.ChatTurn{}, err
	}

	e.metrics.observe("respond", start, nil)
	return modelTurn, nil
}

func findByID(annotations []domain.Annotation, id string) (domain.Annotation, bool) {
	for _, ann := range annotations {
		if ann.ID == id {
			return ann, true
		}
	}
	return domain.Annotation{}, false
}

// appendTurns re-reads the collection and appends turns to one record's
// thread. Every mutation goes through a fresh read so concurrent writers to
// other records are never clobbered.
func (e *Engine) appendTurns(ctx context.Context, bookID, annotationID string, turns ...domain.ChatTurn) error {
	annotations, err := e.store.Annotations(ctx, bookID)
	if err != nil {
		return fmt.Errorf("load annotations: %w", err)
	}
	updated := domain.CloneAnnotations(annotations)
	for i := range updated {
		if updated[i].ID == annotationID {
			updated[i].ChatHistory = append(updated[i].ChatHistory, turns...)
			return e.store.ReplaceAnnotations(ctx, bookID, updated)
		}
	}
	return fmt.Errorf("annotation %s not found", annotationID)
}

func (e *Engine) setHistory(ctx context.Context, bookID, annotationID string, history []domain.ChatTurn) error {
	annotations, err := e.store.Annotations(ctx, bookID)
	if err != nil {
		return fmt.Errorf("load annotations: %w", err)
	}
	updated := domain.CloneAnnotations(annotations)
	for i := range updated {
		if updated[i].ID == annotationID {
			updated[i].ChatHistory = history
			return e.store.ReplaceAnnotations(ctx, bookID, updated)
		}
	}
	return fmt.Errorf("annotation %s not found", annotationID)
}
