package engine

import (
	"marginalia/internal/config"
	"marginalia/internal/domain"
	"marginalia/internal/prompt"
)

// systemPrompt assembles the layered instruction for a call anchored at
// selection. Recent annotations become the short-term memory log when the
// configuration enables it.
func systemPrompt(cfg config.EngineConfig, book domain.Book, persona domain.Persona, selection, lengthConstraint string, annotations []domain.Annotation) string {
	window := prompt.ContextWindow(book.Content, selection, prompt.DefaultLookback)

	shortTerm := ""
	if cfg.ShortTermMemory {
		shortTerm = prompt.FormatShortTermMemory(recentRecords(annotations, persona, cfg.ShortTermMemoryWindow))
	}

	return prompt.BuildSystemPrompt(persona, book.Title, lengthConstraint, shortTerm, window, selection)
}

// recentRecords maps the tail of the annotation collection onto interaction
// records, oldest first, so the short-term memory reads like a log.
func recentRecords(annotations []domain.Annotation, persona domain.Persona, window int) []prompt.InteractionRecord {
	if window <= 0 {
		return nil
	}
	start := len(annotations) - window
	if start < 0 {
		start = 0
	}

	records := make([]prompt.InteractionRecord, 0, len(annotations)-start)
	for _, ann := range annotations[start:] {
		role := "user"
		if ann.Author == domain.AuthorAI {
			role = persona.Name
		}
		records = append(records, prompt.InteractionRecord{
			Topic:   ann.Topic,
			Role:    role,
			Content: ann.Comment,
		})
	}
	return records
}
