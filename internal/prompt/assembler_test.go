package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marginalia/internal/domain"
)

func testPersona() domain.Persona {
	return domain.Persona{
		Name:         "June",
		Role:         "a warm, perceptive reading companion",
		Relationship: "old friend",
		UserIdentity: "you",
		Description:  "June reads slowly and notices small things.",
		SystemPrompt: "Favor concrete images over abstractions.",
	}
}

func TestBuildSystemPromptSectionOrder(t *testing.T) {
	t.Parallel()

	got := BuildSystemPrompt(testPersona(), "The Overstory",
		"around 40 characters", "- [trees] user: wow", "the passage text", "the focus sentence")

	sections := []string{
		"You are June, a warm, perceptive reading companion.",
		"June reads slowly and notices small things.",
		"Favor concrete images over abstractions.",
		"The reader is your old friend.",
		`You are reading "The Overstory" together`,
		"What you remember about this reader from before:",
		"What you two discussed recently:",
		"- [trees] user: wow",
		"The passage leading up to the current position:",
		"the passage text",
		"The sentence in focus right now:",
		"the focus sentence",
		"Reply length: around 40 characters.",
		"Never mention being an AI",
	}
	pos := -1
	for _, section := range sections {
		idx := strings.Index(got, section)
		require.GreaterOrEqual(t, idx, 0, "missing section %q", section)
		assert.Greater(t, idx, pos, "section %q out of order", section)
		pos = idx
	}
}

func TestBuildSystemPromptDeterministic(t *testing.T) {
	t.Parallel()

	a := BuildSystemPrompt(testPersona(), "Title", "short", "stm", "ctx", "target")
	b := BuildSystemPrompt(testPersona(), "Title", "short", "stm", "ctx", "target")
	assert.Equal(t, a, b)
}

func TestBuildSystemPromptDefaults(t *testing.T) {
	t.Parallel()

	persona := domain.Persona{Name: "June", Role: "a companion"}
	got := BuildSystemPrompt(persona, "Title", "short", "", "", "target")

	assert.Contains(t, got, "The reader is your companion. They address you as companion.")
	assert.Contains(t, got, "We just met. I don't know much about this reader yet.")
	assert.Contains(t, got, "(no recent discussion)")
	assert.NotContains(t, got, "The passage leading up to the current position:")
}

func TestBuildSystemPromptOmitsEmptyContext(t *testing.T) {
	t.Parallel()

	got := BuildSystemPrompt(testPersona(), "Title", "short", "", "", "target")
	assert.NotContains(t, got, "passage leading up")
	assert.Contains(t, got, "The sentence in focus right now:\ntarget")
}
