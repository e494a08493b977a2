// Package pruner implements the three-layer progressive context pruner
// (C6): soft trim, hard clear, and message drop, applied in that order
// and each skipped once the transcript falls under its own threshold.
package pruner

import (
	"strings"

	"github.com/kestrelrun/agentcore/pkg/message"
	"github.com/kestrelrun/agentcore/pkg/tool"
	"github.com/rs/zerolog/log"
)

// Options tunes the pruner's thresholds; the zero value is not usable —
// callers should start from Defaults().
type Options struct {
	SoftTrimRatio        float64
	HardClearRatio       float64
	MaxHistoryShare      float64
	SoftTrimMaxChars      int
	MinPrunableToolChars int
	KeepLastAssistants   int
	Policy               tool.Policy
}

// Defaults returns the spec-mandated tuning values.
func Defaults() Options {
	return Options{
		SoftTrimRatio:        0.3,
		HardClearRatio:       0.5,
		MaxHistoryShare:      0.5,
		SoftTrimMaxChars:     4000,
		MinPrunableToolChars: 50000,
		KeepLastAssistants:   3,
	}
}

const hardClearPlaceholder = "[tool result cleared to free context space]"

// Prune applies the three layers over messages given a context window
// budget expressed in tokens. It returns a new slice; the input is never
// mutated in place.
func Prune(messages []message.Message, contextWindowTokens int, opts Options) []message.Message {
	if len(messages) == 0 {
		return messages
	}

	charWindow := float64(contextWindowTokens) * float64(message.CharsPerTokenEstimate)
	budgetChars := charWindow * opts.MaxHistoryShare

	result := cloneMessages(messages)

	total := totalChars(result)
	if charWindow > 0 && float64(total)/charWindow > opts.SoftTrimRatio {
		result = softTrim(result, opts)
		total = totalChars(result)
	}

	if charWindow > 0 && float64(total)/charWindow > opts.HardClearRatio {
		if prunableToolChars(result, opts.Policy) >= opts.MinPrunableToolChars {
			result = hardClear(result, opts, charWindow)
			total = totalChars(result)
		}
	}

	if float64(total) > budgetChars {
		result = dropMessages(result, opts, budgetChars)
	}

	return result
}

func cloneMessages(messages []message.Message) []message.Message {
	out := make([]message.Message, len(messages))
	for i, m := range messages {
		content := make([]message.ContentBlock, len(m.Content))
		copy(content, m.Content)
		m.Content = content
		out[i] = m
	}
	return out
}

func totalChars(messages []message.Message) int {
	total := 0
	for _, m := range messages {
		total += m.CharLen()
	}
	return total
}

func isPrunable(name string, policy tool.Policy) bool {
	return policy.Allows(name)
}

// softTrim replaces every prunable tool_result block over SoftTrimMaxChars
// with a head/tail excerpt plus an explanation, preserving block identity.
func softTrim(messages []message.Message, opts Options) []message.Message {
	trimmed := 0
	for i := range messages {
		for j := range messages[i].Content {
			block := &messages[i].Content[j]
			if block.Type != message.BlockToolResult {
				continue
			}
			if !isPrunable(block.Name, opts.Policy) {
				continue
			}
			if len(block.Content) <= opts.SoftTrimMaxChars {
				continue
			}
			block.Content = excerpt(block.Content, 1500, 1500)
			trimmed++
		}
	}
	if trimmed > 0 {
		log.Debug().Int("blocks", trimmed).Msg("pruner: soft trim applied")
	}
	return messages
}

func excerpt(content string, headChars, tailChars int) string {
	if len(content) <= headChars+tailChars {
		return content
	}
	head := content[:headChars]
	tail := content[len(content)-tailChars:]
	var b strings.Builder
	b.WriteString(head)
	b.WriteString("\n...\n")
	b.WriteString(tail)
	b.WriteString("\n[content truncated to conserve context]")
	return b.String()
}

func prunableToolChars(messages []message.Message, policy tool.Policy) int {
	total := 0
	for _, m := range messages {
		for _, b := range m.Content {
			if b.Type == message.BlockToolResult && isPrunable(b.Name, policy) {
				total += len(b.Content)
			}
		}
	}
	return total
}

// hardClear replaces prunable tool_result content with a short
// placeholder, stopping as soon as the ratio falls below threshold.
func hardClear(messages []message.Message, opts Options, charWindow float64) []message.Message {
	cleared := 0
	for i := range messages {
		if float64(totalChars(messages))/charWindow <= opts.HardClearRatio {
			break
		}
		for j := range messages[i].Content {
			if float64(totalChars(messages))/charWindow <= opts.HardClearRatio {
				break
			}
			block := &messages[i].Content[j]
			if block.Type != message.BlockToolResult {
				continue
			}
			if !isPrunable(block.Name, opts.Policy) {
				continue
			}
			if block.Content == hardClearPlaceholder {
				continue
			}
			block.Content = hardClearPlaceholder
			cleared++
		}
	}
	if cleared > 0 {
		log.Debug().Int("blocks", cleared).Msg("pruner: hard clear applied")
	}
	return messages
}

// dropMessages protects the last KeepLastAssistants assistant messages
// and everything after them, then fills backward from that suffix until
// budgetChars is exhausted. If the protected suffix alone exceeds the
// budget, it falls back to a strictly backward fill from the end.
func dropMessages(messages []message.Message, opts Options, budgetChars float64) []message.Message {
	protectedFrom := len(messages)
	seenAssistants := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == message.RoleAssistant {
			seenAssistants++
			protectedFrom = i
			if seenAssistants >= opts.KeepLastAssistants {
				break
			}
		}
	}

	suffix := messages[protectedFrom:]
	suffixChars := totalChars(suffix)

	if float64(suffixChars) > budgetChars {
		return backwardFill(messages, budgetChars)
	}

	remaining := budgetChars - float64(suffixChars)
	kept := suffix
	for i := protectedFrom - 1; i >= 0; i-- {
		c := messages[i].CharLen()
		if float64(c) > remaining {
			break
		}
		kept = append([]message.Message{messages[i]}, kept...)
		remaining -= float64(c)
	}

	dropped := len(messages) - len(kept)
	if dropped > 0 {
		log.Debug().Int("dropped", dropped).Msg("pruner: message drop applied")
	}
	return kept
}

func backwardFill(messages []message.Message, budgetChars float64) []message.Message {
	var kept []message.Message
	remaining := budgetChars
	for i := len(messages) - 1; i >= 0; i-- {
		c := messages[i].CharLen()
		if float64(c) > remaining && len(kept) > 0 {
			break
		}
		kept = append([]message.Message{messages[i]}, kept...)
		remaining -= float64(c)
	}
	return kept
}
