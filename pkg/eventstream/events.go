package eventstream

// EventType discriminates the exhaustive taxonomy the turn loop emits.
type EventType string

const (
	EventAgentStart             EventType = "agent_start"
	EventAgentEnd               EventType = "agent_end"
	EventAgentError             EventType = "agent_error"
	EventTurnStart              EventType = "turn_start"
	EventTurnEnd                EventType = "turn_end"
	EventMessageStart           EventType = "message_start"
	EventMessageDelta           EventType = "message_delta"
	EventMessageEnd             EventType = "message_end"
	EventToolExecutionStart     EventType = "tool_execution_start"
	EventToolExecutionEnd       EventType = "tool_execution_end"
	EventToolSkipped            EventType = "tool_skipped"
	EventSteering               EventType = "steering"
	EventCompaction             EventType = "compaction"
	EventContextOverflowCompact EventType = "context_overflow_compact"
	EventRetry                  EventType = "retry"
	EventSubagentSummary        EventType = "subagent_summary"
	EventSubagentError          EventType = "subagent_error"
)

// terminal reports whether an event type ends the stream, per the
// turn loop's termination predicate.
func (t EventType) terminal() bool {
	return t == EventAgentEnd || t == EventAgentError
}

// IsTerminal reports whether this event is the stream's last event.
func (e Event) IsTerminal() bool {
	return e.Type.terminal()
}

// Event is the single flat struct carrying every member of the
// taxonomy; Type selects which fields are meaningful, mirroring the
// closed content-block variant used for messages.
type Event struct {
	Type EventType

	// message_delta
	Delta string

	// message_end
	Message interface{}
	Text    string

	// tool_execution_start / tool_execution_end / tool_skipped
	ToolCallID string
	ToolName   string
	ToolArgs   map[string]interface{}
	ToolResult interface{}
	IsError    bool

	// steering
	PendingCount int

	// compaction
	SummaryChars    int
	DroppedMessages int

	// context_overflow_compact / agent_error / subagent_error
	Err error

	// retry
	Attempt int
	DelayMs int64

	// subagent_summary / subagent_error
	SubagentID   string
	SubagentTask string
	Summary      string

	// agent_end
	Result interface{}
}

func AgentStart() Event { return Event{Type: EventAgentStart} }
func AgentEnd(result interface{}) Event {
	return Event{Type: EventAgentEnd, Result: result}
}
func AgentError(err error) Event { return Event{Type: EventAgentError, Err: err} }
func TurnStart() Event           { return Event{Type: EventTurnStart} }
func TurnEnd() Event             { return Event{Type: EventTurnEnd} }
func MessageStart() Event        { return Event{Type: EventMessageStart} }
func MessageDelta(delta string) Event {
	return Event{Type: EventMessageDelta, Delta: delta}
}
func MessageEnd(message interface{}, text string) Event {
	return Event{Type: EventMessageEnd, Message: message, Text: text}
}
func ToolExecutionStart(id, name string, args map[string]interface{}) Event {
	return Event{Type: EventToolExecutionStart, ToolCallID: id, ToolName: name, ToolArgs: args}
}
func ToolExecutionEnd(id, name string, result interface{}, isError bool) Event {
	return Event{Type: EventToolExecutionEnd, ToolCallID: id, ToolName: name, ToolResult: result, IsError: isError}
}
func ToolSkipped(id, name string) Event {
	return Event{Type: EventToolSkipped, ToolCallID: id, ToolName: name}
}
func Steering(pendingCount int) Event {
	return Event{Type: EventSteering, PendingCount: pendingCount}
}
func Compaction(summaryChars, droppedMessages int) Event {
	return Event{Type: EventCompaction, SummaryChars: summaryChars, DroppedMessages: droppedMessages}
}
func ContextOverflowCompact(err error) Event {
	return Event{Type: EventContextOverflowCompact, Err: err}
}
func Retry(attempt int, delayMs int64, err error) Event {
	return Event{Type: EventRetry, Attempt: attempt, DelayMs: delayMs, Err: err}
}
func SubagentSummary(subagentID, task, summary string) Event {
	return Event{Type: EventSubagentSummary, SubagentID: subagentID, SubagentTask: task, Summary: summary}
}
func SubagentError(subagentID, task string, err error) Event {
	return Event{Type: EventSubagentError, SubagentID: subagentID, SubagentTask: task, Err: err}
}
