package runcontrol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssembleSystemPrompt_OnlyBaseWhenNoOptionalSections(t *testing.T) {
	out := AssembleSystemPrompt(SystemPromptOptions{Base: "base prompt"})
	assert.Equal(t, "base prompt", out)
}

func TestAssembleSystemPrompt_IncludesSectionsInFixedOrder(t *testing.T) {
	out := AssembleSystemPrompt(SystemPromptOptions{
		Base:           "base",
		ProjectFiles:   []ProjectFile{{Name: "AGENTS.md", Content: "agent rules"}},
		Skills:         []SkillInfo{{Name: "deploy", Description: "deploys things", Location: "/skills/deploy"}},
		MemoryGuidance: "remember things",
		SandboxNote:    "sandboxed",
	})

	projectIdx := strings.Index(out, "## Project Context")
	skillsIdx := strings.Index(out, "## Skills")
	memoryIdx := strings.Index(out, "## Memory")
	sandboxIdx := strings.Index(out, "## Sandbox")

	assert.True(t, projectIdx < skillsIdx)
	assert.True(t, skillsIdx < memoryIdx)
	assert.True(t, memoryIdx < sandboxIdx)
	assert.Contains(t, out, "<skill><name>deploy</name>")
}

func TestAssembleSystemPrompt_TruncatesOversizedProjectFile(t *testing.T) {
	content := strings.Repeat("x", 5000)
	out := AssembleSystemPrompt(SystemPromptOptions{
		Base:            "base",
		ProjectFiles:    []ProjectFile{{Name: "AGENTS.md", Content: content}},
		MaxFileHeadTail: 100,
	})

	assert.Contains(t, out, "[file truncated to conserve context]")
	assert.Less(t, len(out), len(content))
}

func TestHeadTailExcerpt_NoOpUnderThreshold(t *testing.T) {
	assert.Equal(t, "short", headTailExcerpt("short", 100, 100))
}
