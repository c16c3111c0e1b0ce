package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"marginalia/internal/config"
	"marginalia/internal/domain"
	"marginalia/internal/llm"
	"marginalia/internal/prompt"
)

const consolidateAskFormat = `Below is what you currently remember about the user, followed by your recent exchanges. Rewrite your memory as a single short paragraph in first person, keeping what still matters and folding in anything new you learned.

Current memory:
%s

Recent exchanges:
%s`

// ConsolidateMemory folds the recent annotation history into the persona's
// long-term memory and returns the rewritten memory text. The caller owns
// persisting it back onto the persona record. On error or an empty reply
// the existing memory is returned unchanged, so a failed consolidation can
// never erase what the persona already knows.
func (e *Engine) ConsolidateMemory(ctx context.Context, cfg config.EngineConfig, book domain.Book, persona domain.Persona) (string, error) {
	start := time.Now()

	current := prompt.LongTermOrDefault(persona.LongTermMemory)

	annotations, err := e.store.Annotations(ctx, book.ID)
	if err != nil {
		return persona.LongTermMemory, fmt.Errorf("load annotations: %w", err)
	}
	recent := prompt.FormatShortTermMemory(recentRecords(annotations, persona, cfg.ShortTermMemoryWindow))

	system := fmt.Sprintf("You are %s, keeping a private diary about the reader you accompany.", persona.Name)
	turns := []domain.ChatTurn{{
		Role: domain.RoleUser,
		Text: fmt.Sprintf(consolidateAskFormat, current, recent),
	}}

	low := 0.3
	memory, err := e.generator.Generate(ctx, cfg, turns, system, &llm.GenerationOverrides{Temperature: &low})
	if err != nil {
		e.metrics.observe("consolidate", start, err)
		return persona.LongTermMemory, err
	}
	if strings.TrimSpace(memory) == "" {
		e.metrics.observe("consolidate", start, nil)
		return persona.LongTermMemory, nil
	}

	e.metrics.observe("consolidate", start, nil)
	return strings.TrimSpace(memory), nil
}

// ConsolidationTracker decides when the annotation count has crossed a new
// consolidation threshold. The last triggered count is external state the
// host persists alongside the persona, so restarting the app does not
// re-trigger an already-consolidated batch.
type ConsolidationTracker struct {
	mu        sync.Mutex
	interval  int
	lastCount int
}

// NewConsolidationTracker restores a tracker from the persisted last count.
func NewConsolidationTracker(interval, lastCount int) *ConsolidationTracker {
	return &ConsolidationTracker{interval: interval, lastCount: lastCount}
}

// ShouldConsolidate reports whether count crosses a new interval boundary.
// Zero never triggers, and the same count never triggers twice.
func (t *ConsolidationTracker) ShouldConsolidate(count int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.interval <= 0 || count <= 0 {
		return false
	}
	if count%t.interval != 0 || count == t.lastCount {
		return false
	}
	t.lastCount = count
	return true
}

// LastCount returns the count of the most recent trigger, for persisting.
func (t *ConsolidationTracker) LastCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastCount
}
