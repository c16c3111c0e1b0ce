package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"marginalia/internal/config"
	"marginalia/internal/domain"
	"marginalia/internal/llm"
	jsonx "marginalia/internal/shared/json"
)

// decodeModelJSON parses a JSON-mode reply into out. Models wrap JSON in
// markdown fences or emit trailing commas often enough that a repair pass
// runs before giving up.
func decodeModelJSON(text string, out any) error {
	trimmed := stripFences(text)
	if err := jsonx.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(trimmed)
	if err != nil {
		return fmt.Errorf("repair model JSON: %w", err)
	}
	if err := jsonx.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("decode model JSON: %w", err)
	}
	return nil
}

func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// pickExcerpts asks the model for up to count verbatim excerpts from
// pageText, as a JSON string array. An unparsable reply returns nil, nil:
// the scan is an enrichment and aborts silently on malformed output.
func (e *Engine) pickExcerpts(ctx context.Context, cfg config.EngineConfig, pageText string, count int) ([]string, error) {
	system := fmt.Sprintf(
		"Select up to %d sentences from the user's text worth commenting on. "+
			"Reply with a JSON array of strings. Each string must be copied verbatim from the text.", count)
	turns := []domain.ChatTurn{{Role: domain.RoleUser, Text: pageText}}

	text, err := e.generator.Generate(ctx, cfg, turns, system, &llm.GenerationOverrides{JSONMode: true})
	if err != nil {
		return nil, err
	}

	var excerpts []string
	if err := decodeModelJSON(text, &excerpts); err != nil {
		e.logger.Debug("excerpt list unparsable, skipping scan: %v", err)
		return nil, nil
	}
	if len(excerpts) > count {
		excerpts = excerpts[:count]
	}
	return excerpts, nil
}
