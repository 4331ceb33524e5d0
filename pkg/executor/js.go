package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// jsExecutor realizes Executor for JavaScript and TypeScript. goja only
// understands ECMAScript and TypeScript source is handed to it unchanged
// (see stripTypes), so TypeScript-only syntax fails as an execute_error.
// One goja.Runtime is held per
// kernel; a fresh runtime is installed on Restart, matching §4.3's "resets
// in-memory state" for restart. Grounded on the pure-Go script-engine
// pattern used for in-process, per-call VM isolation (console rebinding,
// fresh-VM-per-run) — adapted here to a single long-lived VM per kernel so
// that successive Execute calls share top-level state, the way a real
// notebook kernel does.
type jsExecutor struct {
	language Language

	mu     sync.Mutex
	status Status
	vm     *goja.Runtime
	busy   bool
}

// NewJS constructs a JavaScript/TypeScript executor. It does not start the
// runtime; call Start first.
func NewJS(lang Language) Executor {
	return &jsExecutor{language: lang, status: StatusStarting}
}

func (e *jsExecutor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm = e.newRuntime()
	e.status = StatusIdle
	return nil
}

func (e *jsExecutor) newRuntime() *goja.Runtime {
	vm := goja.New()
	return vm
}

func (e *jsExecutor) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *jsExecutor) Execute(ctx context.Context, code string) (<-chan Event, error) {
	e.mu.Lock()
	if e.status == StatusDead {
		e.mu.Unlock()
		return nil, ErrDead
	}
	if e.busy {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	e.busy = true
	e.status = StatusBusy
	vm := e.vm
	e.mu.Unlock()

	events := make(chan Event, 16)
	outputCount := 0
	emit := func(ev Event) {
		if ev.Kind == EventStream || ev.Kind == EventDisplayData || ev.Kind == EventExecuteResult {
			outputCount++
		}
		events <- ev
	}

	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		emit(StreamEvent(StreamStdout, joinArgs(call)+"\n"))
		return goja.Undefined()
	})
	_ = console.Set("error", func(call goja.FunctionCall) goja.Value {
		emit(StreamEvent(StreamStderr, joinArgs(call)+"\n"))
		return goja.Undefined()
	})
	_ = vm.Set("console", console)

	go func() {
		defer close(events)
		defer func() {
			e.mu.Lock()
			e.busy = false
			if e.status != StatusDead {
				e.status = StatusIdle
			}
			e.mu.Unlock()
		}()

		emit(StreamStartEvent("executing"))

		source := code
		if e.language == LanguageTypeScript {
			source = stripTypes(code)
		}

		done := make(chan struct{})
		var runErr error
		var result goja.Value
		go func() {
			defer close(done)
			result, runErr = vm.RunString(source)
		}()

		select {
		case <-ctx.Done():
			vm.Interrupt("interrupted")
			<-done
		case <-done:
		}

		if runErr != nil {
			if ex, ok := runErr.(*goja.InterruptedError); ok {
				emit(ExecuteErrorEvent("Interrupted", fmt.Sprint(ex), nil))
				return
			}
			if ex, ok := runErr.(*goja.Exception); ok {
				emit(ExecuteErrorEvent(jsErrorName(ex), ex.Error(), nil))
				return
			}
			emit(ExecuteErrorEvent("Error", runErr.Error(), nil))
			return
		}

		if result != nil && !goja.IsUndefined(result) && !goja.IsNull(result) {
			emit(ExecuteResultEvent(map[string]any{"text/plain": result.String()}))
		}
		emit(StreamCompleteEvent("done", outputCount))
	}()

	return events, nil
}

func (e *jsExecutor) Interrupt(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusDead {
		return ErrDead
	}
	if !e.busy {
		return nil
	}
	e.vm.Interrupt("interrupted")
	return nil
}

func (e *jsExecutor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy && e.vm != nil {
		e.vm.Interrupt("shutdown")
	}
	e.status = StatusDead
	return nil
}

// Restart installs a fresh runtime, discarding all top-level state —
// matching the kernel manager's "restart preserves id, resets in-memory
// state" invariant (§4.3).
func (e *jsExecutor) Restart(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy && e.vm != nil {
		e.vm.Interrupt("restart")
	}
	e.vm = e.newRuntime()
	e.busy = false
	e.status = StatusIdle
	return nil
}

func joinArgs(call goja.FunctionCall) string {
	out := ""
	for i, a := range call.Arguments {
		if i > 0 {
			out += " "
		}
		out += a.String()
	}
	return out
}

func jsErrorName(ex *goja.Exception) string {
	return "Error"
}

// stripTypes returns src unchanged: no TypeScript syntax is removed, not
// even simple type annotations, so any TypeScript-only syntax reaches goja's
// ECMAScript-only VM and surfaces as a normal execute_error.
func stripTypes(src string) string {
	return src
}
