// Package executor implements the isolated execution-context abstraction
// (§4.1): one Executor owns one Python or JS/TS context, exposes
// Execute/Interrupt/Status/Shutdown, and streams structured events.
package executor

import (
	"context"
	"errors"
)

// Mode is the worker hosting mode. Only "worker" is actually implemented
// by either realization below; "main-thread" is accepted as a valid mode
// value (the allow-list in config decides what is offered) but currently
// behaves identically to "worker" for both executors.
type Mode string

const (
	ModeWorker     Mode = "worker"
	ModeMainThread Mode = "main-thread"
)

// Language selects the executor realization.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
)

// Status is the lifecycle state of an Executor.
type Status string

const (
	StatusStarting    Status = "starting"
	StatusIdle        Status = "idle"
	StatusBusy        Status = "busy"
	StatusInterrupted Status = "interrupted"
	StatusDead        Status = "dead"
)

// ErrBusy is returned by Execute when a call is already in flight — §4.1
// documents this as an implementation choice; this engine rejects rather
// than queues, so a caller always knows synchronously whether it won the
// right to drive the executor.
var ErrBusy = errors.New("executor: already executing")

// ErrDead is returned by Execute/Interrupt on a dead executor.
var ErrDead = errors.New("executor: dead")

// Executor is one isolated code-execution context.
type Executor interface {
	// Start brings the executor up (spawns the subprocess / builds the VM).
	Start(ctx context.Context) error

	// Execute runs code and streams events on the returned channel until a
	// terminator event (ExecuteError or StreamComplete) is sent, after which
	// the channel is closed. Concurrent calls while one is in flight return
	// ErrBusy without starting a second stream.
	Execute(ctx context.Context, code string) (<-chan Event, error)

	// Interrupt cancels the in-flight Execute, if any; a no-op success on an
	// idle executor.
	Interrupt(ctx context.Context) error

	// Status reports the current lifecycle state.
	Status() Status

	// Shutdown releases the executor's resources (kills the subprocess /
	// discards the VM). Safe to call more than once.
	Shutdown(ctx context.Context) error
}

// Mode/Language of a freshly-created Executor, used by the pool and kernel
// manager to route requests without downcasting.
type Spec struct {
	Mode     Mode
	Language Language
}
