package executor

// EventKind discriminates the Event union (§3 Event).
type EventKind string

const (
	EventStream         EventKind = "stream"
	EventDisplayData    EventKind = "display_data"
	EventExecuteResult  EventKind = "execute_result"
	EventExecuteError   EventKind = "execute_error"
	EventError          EventKind = "error"
	EventStreamStart    EventKind = "stream_start"
	EventStreamComplete EventKind = "stream_complete"
)

// StreamName distinguishes stdout from stderr for EventStream.
type StreamName string

const (
	StreamStdout StreamName = "stdout"
	StreamStderr StreamName = "stderr"
)

// Event is a discriminated record emitted by an Executor. Exactly one
// field group is populated, matching Kind.
type Event struct {
	Kind EventKind

	// EventStream
	StreamName StreamName
	Text       string

	// EventDisplayData / EventExecuteResult
	Data     map[string]any
	Metadata map[string]any

	// EventExecuteError / EventError
	EName     string
	EValue    string
	Traceback []string

	// EventStreamStart
	Message string

	// EventStreamComplete
	OutputCount int
}

// IsTerminator reports whether e is the one terminator every session must
// see exactly once (§3 invariant).
func (e Event) IsTerminator() bool {
	return e.Kind == EventExecuteError || e.Kind == EventError || e.Kind == EventStreamComplete
}

func StreamEvent(name StreamName, text string) Event {
	return Event{Kind: EventStream, StreamName: name, Text: text}
}

func StreamStartEvent(message string) Event {
	return Event{Kind: EventStreamStart, Message: message}
}

func StreamCompleteEvent(message string, outputCount int) Event {
	return Event{Kind: EventStreamComplete, Message: message, OutputCount: outputCount}
}

func ExecuteErrorEvent(ename, evalue string, traceback []string) Event {
	return Event{Kind: EventExecuteError, EName: ename, EValue: evalue, Traceback: traceback}
}

func ExecuteResultEvent(data map[string]any) Event {
	return Event{Kind: EventExecuteResult, Data: data}
}

func DisplayDataEvent(data, metadata map[string]any) Event {
	return Event{Kind: EventDisplayData, Data: data, Metadata: metadata}
}
