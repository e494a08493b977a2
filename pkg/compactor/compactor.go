// Package compactor implements adaptive chunked summarization (C7): it
// decides when a transcript should be compacted, splits it into
// token-balanced chunks when needed, and produces the single synthetic
// summary message that replaces the compacted history.
package compactor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/rs/zerolog/log"
)

// SummarizeRequest is passed to the caller-supplied Summarizer.
type SummarizeRequest struct {
	System     string
	UserPrompt string
	MaxTokens  int
}

// Summarizer calls out to an LLM (or any text-in/text-out backend) to
// produce a natural-language summary.
type Summarizer func(ctx context.Context, req SummarizeRequest) (string, error)

// Options tunes the compactor's trigger and chunking behavior.
type Options struct {
	ReserveTokens      int
	ChunkRatioBaseline float64
	ChunkRatioFloor    float64
	ChunkParts         int
	SummaryMaxTokens   int
}

// Defaults returns the spec-mandated tuning values.
func Defaults() Options {
	return Options{
		ReserveTokens:      20000,
		ChunkRatioBaseline: 0.4,
		ChunkRatioFloor:    0.15,
		ChunkParts:         2,
		SummaryMaxTokens:   2000,
	}
}

// ShouldCompact reports whether messages have grown large enough,
// relative to the model's context window, to warrant compaction.
func ShouldCompact(messages []message.Message, contextWindowTokens int, opts Options) bool {
	return message.EstimateTokens(messages) > contextWindowTokens-opts.ReserveTokens
}

const summarizerSystemPrompt = "You are a context summarization assistant. Given a conversation transcript, produce a concise but complete summary that lets an assistant continue the work without the original messages."

const summaryUserPromptTemplate = `Summarize the following conversation. Use these sections, each as a heading:

Goals
Constraints & Preferences
Progress
  Completed
  In Progress
  Blocked
Key Decisions
Next Steps
Key Information

Conversation:
%s`

const summaryUpdatePromptTemplate = `The conversation continued past a previous summary. Preserve everything in the previous summary that is still relevant and extend it with what follows. Use the same sections: Goals, Constraints & Preferences, Progress (Completed/In Progress/Blocked), Key Decisions, Next Steps, Key Information.

Previous summary:
%s

New messages:
%s`

const mergeInstructionTemplate = `Merge the following partial summaries of one continuous conversation into a single summary using the same sections: Goals, Constraints & Preferences, Progress (Completed/In Progress/Blocked), Key Decisions, Next Steps, Key Information. Do not duplicate information that appears in more than one part.

%s`

const fallbackTemplate = "Context contained %d messages. Summary unavailable due to size limits."

// Compact summarizes messages (the entire dropped set — the caller is
// responsible for deciding what stays vs. what is handed here) into one
// synthetic user-role message, chunking the input when it would overrun
// a single summarization call. previousSummary, if non-empty, switches
// to the update-oriented prompt so prior context is preserved rather
// than discarded.
func Compact(ctx context.Context, messages []message.Message, contextWindowTokens int, opts Options, summarize Summarizer, previousSummary string) (message.Message, error) {
	if len(messages) == 0 {
		return message.PlainText(message.RoleUser, previousSummary), nil
	}

	ratio := adaptiveChunkRatio(messages, contextWindowTokens, opts)
	chunkBudgetTokens := int(float64(contextWindowTokens) * ratio)

	var summary string
	var err error

	total := message.EstimateTokens(messages)
	if total <= chunkBudgetTokens {
		summary, err = summarizeOnce(ctx, messages, summarize, previousSummary, opts)
	} else {
		parts := splitBalanced(messages, opts.ChunkParts)
		partial := make([]string, 0, len(parts))
		for i, part := range parts {
			s, perr := summarizeOnce(ctx, part, summarize, "", opts)
			if perr != nil {
				log.Warn().Err(perr).Int("part", i).Msg("compactor: partial summarization failed")
				s, perr = retryWithFiltering(ctx, part, summarize, opts)
				if perr != nil {
					return message.PlainText(message.RoleUser, fallback(messages)), nil
				}
			}
			partial = append(partial, s)
		}
		summary, err = mergePartials(ctx, partial, previousSummary, summarize, opts)
	}

	if err != nil {
		summary, err = retryWithFiltering(ctx, messages, summarize, opts)
		if err != nil {
			return message.PlainText(message.RoleUser, fallback(messages)), nil
		}
	}

	summary += fileOpsAppendix(messages)

	return message.PlainText(message.RoleUser, summary), nil
}

func summarizeOnce(ctx context.Context, messages []message.Message, summarize Summarizer, previousSummary string, opts Options) (string, error) {
	transcript := renderTranscript(messages)

	var prompt string
	if previousSummary != "" {
		prompt = fmt.Sprintf(summaryUpdatePromptTemplate, previousSummary, transcript)
	} else {
		prompt = fmt.Sprintf(summaryUserPromptTemplate, transcript)
	}

	return summarize(ctx, SummarizeRequest{
		System:     summarizerSystemPrompt,
		UserPrompt: prompt,
		MaxTokens:  opts.SummaryMaxTokens,
	})
}

func mergePartials(ctx context.Context, partials []string, previousSummary string, summarize Summarizer, opts Options) (string, error) {
	if len(partials) == 1 && previousSummary == "" {
		return partials[0], nil
	}

	var b strings.Builder
	for i, p := range partials {
		fmt.Fprintf(&b, "Part %d:\n%s\n\n", i+1, p)
	}
	if previousSummary != "" {
		fmt.Fprintf(&b, "Previous summary:\n%s\n", previousSummary)
	}

	return summarize(ctx, SummarizeRequest{
		System:     summarizerSystemPrompt,
		UserPrompt: fmt.Sprintf(mergeInstructionTemplate, b.String()),
		MaxTokens:  opts.SummaryMaxTokens,
	})
}

// retryWithFiltering drops (replaces) any single message whose own
// token estimate exceeds half the window, then retries summarization
// once more.
func retryWithFiltering(ctx context.Context, messages []message.Message, summarize Summarizer, opts Options) (string, error) {
	filtered := make([]message.Message, len(messages))
	copy(filtered, messages)
	for i, m := range filtered {
		tokens := message.EstimateTokens([]message.Message{m})
		if tokens > filterThreshold(messages) {
			filtered[i] = message.PlainText(m.Role, fmt.Sprintf("[Large %s (~%dK tokens) omitted]", m.Role, tokens/1000))
		}
	}

	return summarizeOnce(ctx, filtered, summarize, "", opts)
}

// filterThreshold is half of the aggregate token estimate across the
// full set, matching "50% of the window" when the caller passes the
// full dropped set through Compact.
func filterThreshold(messages []message.Message) int {
	return message.EstimateTokens(messages) / 2
}

func fallback(messages []message.Message) string {
	return fmt.Sprintf(fallbackTemplate, len(messages))
}

func renderTranscript(messages []message.Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.JoinText())
		for _, blk := range m.ToolUseBlocks() {
			fmt.Fprintf(&b, "  tool_use: %s\n", blk.Name)
		}
		for _, blk := range m.ToolResultBlocks() {
			fmt.Fprintf(&b, "  tool_result: %s\n", truncate(blk.Content, 500))
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// adaptiveChunkRatio scales the baseline ratio down toward the floor
// when the average message size, with a 1.2x safety margin, exceeds 10%
// of the context window.
func adaptiveChunkRatio(messages []message.Message, contextWindowTokens int, opts Options) float64 {
	if len(messages) == 0 || contextWindowTokens <= 0 {
		return opts.ChunkRatioBaseline
	}
	avgTokens := float64(message.EstimateTokens(messages)) / float64(len(messages))
	if avgTokens*1.2 > float64(contextWindowTokens)*0.1 {
		return opts.ChunkRatioFloor
	}
	return opts.ChunkRatioBaseline
}

// splitBalanced divides messages into parts roughly equal in estimated
// token count, preserving message order within each part.
func splitBalanced(messages []message.Message, parts int) [][]message.Message {
	if parts < 1 {
		parts = 1
	}
	if parts >= len(messages) {
		out := make([][]message.Message, len(messages))
		for i, m := range messages {
			out[i] = []message.Message{m}
		}
		return out
	}

	total := message.EstimateTokens(messages)
	target := total / parts
	if target == 0 {
		target = 1
	}

	out := make([][]message.Message, 0, parts)
	current := []message.Message{}
	currentTokens := 0
	for _, m := range messages {
		current = append(current, m)
		currentTokens += message.EstimateTokens([]message.Message{m})
		if currentTokens >= target && len(out) < parts-1 {
			out = append(out, current)
			current = nil
			currentTokens = 0
		}
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

const (
	fileOpToolRead  = "read"
	fileOpToolWrite = "write"
	fileOpToolEdit  = "edit"
)

// fileOpsAppendix walks assistant tool_use blocks for read/write/edit
// calls and appends sorted, deduplicated "modified files" and "read
// files" tag blocks so the model can keep reasoning about paths that
// fell out of history.
func fileOpsAppendix(messages []message.Message) string {
	modified := make(map[string]bool)
	read := make(map[string]bool)

	for _, m := range messages {
		if m.Role != message.RoleAssistant {
			continue
		}
		for _, b := range m.ToolUseBlocks() {
			path, ok := b.Input["path"].(string)
			if !ok || path == "" {
				continue
			}
			switch b.Name {
			case fileOpToolWrite, fileOpToolEdit:
				modified[path] = true
			case fileOpToolRead:
				read[path] = true
			}
		}
	}
	// A file that was written/edited is not also "read-only".
	for path := range modified {
		delete(read, path)
	}

	if len(modified) == 0 && len(read) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n")
	if len(modified) > 0 {
		b.WriteString("<modified-files>\n")
		for _, p := range sortedKeys(modified) {
			fmt.Fprintf(&b, "%s\n", p)
		}
		b.WriteString("</modified-files>\n")
	}
	if len(read) > 0 {
		b.WriteString("<read-files>\n")
		for _, p := range sortedKeys(read) {
			fmt.Fprintf(&b, "%s\n", p)
		}
		b.WriteString("</read-files>\n")
	}
	return b.String()
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
