package runcontrol

import "strings"

// ProjectFile is one piece of injected project context, such as the
// contents of AGENTS.md, SOUL.md, or HEARTBEAT.md.
type ProjectFile struct {
	Name    string
	Content string
}

// SkillInfo is one entry the Skills block advertises to the model.
type SkillInfo struct {
	Name        string
	Description string
	Location    string
}

// SystemPromptOptions assembles one run's system prompt.
type SystemPromptOptions struct {
	Base            string
	ProjectFiles    []ProjectFile
	Skills          []SkillInfo
	MemoryGuidance  string
	SandboxNote     string
	MaxFileHeadTail int
}

const defaultMaxFileHeadTail = 2000

// AssembleSystemPrompt concatenates the base prompt with the optional
// Project Context, Skills, Memory, and Sandbox blocks, in that fixed
// order, matching the section headings a model is expected to parse
// consistently across runs. It is assembled fresh on every run rather
// than cached, since project files and the skill set can change between
// runs of the same session.
func AssembleSystemPrompt(opts SystemPromptOptions) string {
	headTail := opts.MaxFileHeadTail
	if headTail <= 0 {
		headTail = defaultMaxFileHeadTail
	}

	var b strings.Builder
	b.WriteString(opts.Base)

	if len(opts.ProjectFiles) > 0 {
		b.WriteString("\n\n## Project Context\n")
		for _, f := range opts.ProjectFiles {
			writeProjectFile(&b, f, headTail)
		}
	}

	if skills := renderSkillsBlock(opts.Skills); skills != "" {
		b.WriteString("\n\n## Skills\n")
		b.WriteString(skills)
	}

	if opts.MemoryGuidance != "" {
		b.WriteString("\n\n## Memory\n")
		b.WriteString(opts.MemoryGuidance)
	}

	if opts.SandboxNote != "" {
		b.WriteString("\n\n## Sandbox\n")
		b.WriteString(opts.SandboxNote)
	}

	return b.String()
}

func writeProjectFile(b *strings.Builder, f ProjectFile, headTail int) {
	b.WriteString("\n### ")
	b.WriteString(f.Name)
	b.WriteString("\n")
	b.WriteString(headTailExcerpt(f.Content, headTail, headTail))
	b.WriteString("\n")
}

func renderSkillsBlock(skills []SkillInfo) string {
	if len(skills) == 0 {
		return ""
	}
	var b strings.Builder
	for _, s := range skills {
		b.WriteString("<skill><name>")
		b.WriteString(s.Name)
		b.WriteString("</name><description>")
		b.WriteString(s.Description)
		b.WriteString("</description><location>")
		b.WriteString(s.Location)
		b.WriteString("</location></skill>\n")
	}
	return b.String()
}

// headTailExcerpt keeps the first headChars and last tailChars of
// content when it overruns their sum, matching the pruner's own
// soft-trim excerpting so oversized project files degrade the same way
// oversized tool results do.
func headTailExcerpt(content string, headChars, tailChars int) string {
	if len(content) <= headChars+tailChars {
		return content
	}
	head := content[:headChars]
	tail := content[len(content)-tailChars:]
	var b strings.Builder
	b.WriteString(head)
	b.WriteString("\n...\n")
	b.WriteString(tail)
	b.WriteString("\n[file truncated to conserve context]")
	return b.String()
}
