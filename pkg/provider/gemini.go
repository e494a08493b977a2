package provider

import (
	"context"
	"fmt"

	"github.com/kestrelrun/agentcore/pkg/eventstream"
)

// GeminiStream is a placeholder StreamFn: Gemini integration is not
// available yet in this runtime.
func GeminiStream(ctx context.Context, model ModelDef, call CallContext, opts CallOptions) *eventstream.Stream[LLMEvent, Result] {
	out := eventstream.New[LLMEvent, Result](1)
	out.End(Result{Err: fmt.Errorf("gemini provider not yet implemented - use anthropic or openai")})
	return out
}
