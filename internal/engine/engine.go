// Package engine exposes the AI operations of the reading companion:
// reactive annotation generation, chat replies, autonomous scanning, topic
// summarization, reviews, and memory consolidation. It owns the optimistic
// create/append patterns and their rollback; provider wire details live in
// internal/llm and the per-id in-flight discipline in internal/task.
package engine

import (
	"context"

	"marginalia/internal/config"
	"marginalia/internal/domain"
	"marginalia/internal/llm"
	"marginalia/internal/logging"
	"marginalia/internal/task"
)

// Store is the slice of the persistence collaborator the engine needs.
// Updates are whole-collection replacements; the store serializes writes.
type Store interface {
	Annotations(ctx context.Context, bookID string) ([]domain.Annotation, error)
	ReplaceAnnotations(ctx context.Context, bookID string, annotations []domain.Annotation) error
}

// Generator dispatches one AI call. *llm.Factory implements it; tests
// substitute a fake.
type Generator interface {
	Generate(ctx context.Context, cfg config.EngineConfig, turns []domain.ChatTurn, systemInstruction string, overrides *llm.GenerationOverrides) (string, error)
}

// Natural-language length budgets passed to the prompt assembler. Advisory
// only: the model may run over, and nothing truncates these paths.
const (
	lengthAnnotation = "around 40 characters, one or two short sentences"
	lengthChat       = "around 80 characters, conversational"
	lengthReview     = "between 400 and 600 characters, a few paragraphs"
)

// fallbackText substitutes an empty-but-successful reply on chat paths.
const fallbackText = "..."

// fallbackApology is appended to a chat history when the reply call fails,
// so a failure is never silently dropped.
const fallbackApology = "Sorry, I lost my train of thought there. Could you say that again?"

// Engine ties the prompt assembly, provider dispatch, and task coordination
// together. It is safe for concurrent use across different annotation ids.
type Engine struct {
	store     Store
	generator Generator
	coord     *task.Coordinator
	logger    logging.Logger
	metrics   *Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger injects a logger; the default is a component logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(logger) }
}

// WithMetrics injects engine metrics; the default records nothing.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithGenerator substitutes the provider dispatch, for tests.
func WithGenerator(g Generator) Option {
	return func(e *Engine) { e.generator = g }
}

// New builds an Engine over the given store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		generator: &factoryGenerator{factory: llm.NewFactory()},
		coord:     task.NewCoordinator(),
		logger:    logging.NewComponentLogger("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Busy reports whether an annotation currently has a request in flight, so
// the host can disable its trigger UI.
func (e *Engine) Busy(annotationID string) bool {
	return e.coord.StateOf(annotationID) == task.StatePending
}

type factoryGenerator struct {
	factory *llm.Factory
}

func (g *factoryGenerator) Generate(ctx context.Context, cfg config.EngineConfig, turns []domain.ChatTurn, systemInstruction string, overrides *llm.GenerationOverrides) (string, error) {
	return g.factory.Generate(ctx, cfg, turns, systemInstruction, overrides)
}
