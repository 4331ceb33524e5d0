package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexops/kernelengine/pkg/errs"
	"github.com/nexops/kernelengine/pkg/executor"
	"github.com/nexops/kernelengine/pkg/kernel"
	"github.com/nexops/kernelengine/pkg/llm"
	"github.com/nexops/kernelengine/pkg/rid"
)

// MCPFactory builds a ToolExecutor bridging the given MCP server ids,
// filtered by toolFilter. Implemented by a closure over *mcp.ClientFactory
// in cmd/kernelengine/main.go — pkg/agent cannot import pkg/mcp directly
// since pkg/mcp's ToolExecutor already depends on pkg/agent's ToolCall/
// ToolResult/ToolDefinition types; this factory indirection is what keeps
// that a one-way dependency.
type MCPFactory func(ctx context.Context, serverIDs []string, toolFilter map[string][]string) (ToolExecutor, error)

// Config bounds the Agent Manager (§4.9 + SPEC_FULL AgentDefaults).
type Config struct {
	MaxAgentsPerNamespace int
	DataDirectory         string
	AutoSaveConversations bool
	MaxStepsCap           int
	DefaultModelSettings  llm.ModelSettings
}

// Manager is the namespaced registry of agents.
type Manager struct {
	cfg        Config
	kernels    *kernel.Manager
	llmProv    llm.Provider
	mcpFactory MCPFactory // nil disables MCP tool bridging
	log        *slog.Logger

	mu     sync.RWMutex
	agents map[string]*Agent
}

// New constructs a Manager. kernels/llmProvider are required collaborators;
// mcpFactory may be nil if no MCP servers are configured anywhere.
func New(cfg Config, kernels *kernel.Manager, llmProvider llm.Provider, mcpFactory MCPFactory, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:        cfg,
		kernels:    kernels,
		llmProv:    llmProvider,
		mcpFactory: mcpFactory,
		log:        log.With("component", "agent_manager"),
		agents:     make(map[string]*Agent),
	}
}

// CreateOptions configures CreateAgent (§4.9 createAgent).
type CreateOptions struct {
	ID           string
	Namespace    string
	Name         string
	Instructions string

	// StartupScript, if set, is run against the attached kernel right
	// after creation (§4.9: "runs the startup script if any").
	StartupScript string

	// AutoAttachKernel requests a kernel be acquired for this agent via
	// the Kernel Manager. KernelMode/KernelLanguage select its type; the
	// zero values default to worker/python, matching kernel.CreateKernel.
	AutoAttachKernel bool
	KernelMode       executor.Mode
	KernelLanguage   executor.Language

	ModelSettings llm.ModelSettings
	MaxSteps      int

	MCPServers []string
	ToolFilter map[string][]string
}

func (m *Manager) namespaceCount(namespace string) int {
	n := 0
	for _, a := range m.agents {
		if a.ID.Namespace == namespace {
			n++
		}
	}
	return n
}

// CreateAgent implements §4.9 createAgent: validates model settings and
// tool-name collisions, optionally acquires a kernel and runs the startup
// script, and evicts the namespace's oldest agent (by last-activity) if
// the namespace is at capacity.
func (m *Manager) CreateAgent(ctx context.Context, opts CreateOptions) (*Agent, error) {
	settings := opts.ModelSettings
	if settings.Model == "" {
		settings = m.cfg.DefaultModelSettings
	}
	if settings.Model == "" {
		return nil, errs.InvalidArgument(fmt.Errorf("agent: model settings require a model name"))
	}

	maxSteps := opts.MaxSteps
	if maxSteps <= 0 || maxSteps > m.cfg.MaxStepsCap {
		maxSteps = m.cfg.MaxStepsCap
	}

	local := opts.ID
	if local == "" {
		local = uuid.New().String()
	}
	id, err := rid.New(opts.Namespace, local)
	if err != nil {
		return nil, errs.InvalidArgument(err)
	}

	m.mu.Lock()
	if _, exists := m.agents[id.String()]; exists {
		m.mu.Unlock()
		return nil, errs.AlreadyExists(id.String())
	}
	if m.cfg.MaxAgentsPerNamespace > 0 && m.namespaceCount(opts.Namespace) >= m.cfg.MaxAgentsPerNamespace {
		m.mu.Unlock()
		m.evictOldest(opts.Namespace)
		m.mu.Lock()
	}
	m.mu.Unlock()

	// Tool-name collision check (§4.9a): an MCP tool literally named
	// executeCode is rejected at config time, not silently shadowed.
	var toolExecutor ToolExecutor
	if len(opts.MCPServers) > 0 {
		if m.mcpFactory == nil {
			return nil, errs.FailedPrecondition(id.String(), fmt.Errorf("agent: MCP servers requested but no MCP bridge is configured"))
		}
		toolExecutor, err = m.mcpFactory(ctx, opts.MCPServers, opts.ToolFilter)
		if err != nil {
			return nil, errs.Unavailable(fmt.Errorf("agent: connecting MCP servers: %w", err))
		}
		tools, err := toolExecutor.ListTools(ctx)
		if err != nil {
			_ = toolExecutor.Close()
			return nil, errs.Unavailable(fmt.Errorf("agent: listing MCP tools: %w", err))
		}
		for _, t := range tools {
			if t.Name == executeCodeTool {
				_ = toolExecutor.Close()
				return nil, errs.InvalidArgument(fmt.Errorf("agent: MCP tool name %q collides with the built-in kernel tool", executeCodeTool))
			}
		}
	}

	a := &Agent{
		ID:            id,
		Name:          opts.Name,
		Instructions:  opts.Instructions,
		StartupScript: opts.StartupScript,
		ModelSettings: settings,
		MaxSteps:      maxSteps,
		MCPServers:    opts.MCPServers,
		ToolFilter:    opts.ToolFilter,
		CreatedAt:     time.Now(),
		lastActivity:  time.Now(),
		toolExecutor:  toolExecutor,
	}

	if m.cfg.AutoSaveConversations && opts.ID != "" {
		if err := m.LoadConversation(a); err != nil {
			m.log.Warn("loading persisted conversation failed", "agent", id.String(), "error", err)
		}
	}

	if opts.AutoAttachKernel {
		kernelID, err := m.kernels.CreateKernel(ctx, kernel.CreateOptions{
			Namespace: opts.Namespace,
			Mode:      opts.KernelMode,
			Language:  opts.KernelLanguage,
		})
		if err != nil {
			if toolExecutor != nil {
				_ = toolExecutor.Close()
			}
			return nil, err
		}
		a.kernelID = kernelID.String()

		if opts.StartupScript != "" {
			// §4.9: a startup-script failure is captured, not torn down —
			// the kernel stays attached so the user can inspect it.
			if err := m.runStartupScript(ctx, opts.Namespace, kernelID.String(), opts.StartupScript); err != nil {
				a.startupError = err.Error()
			}
		}
	}

	m.mu.Lock()
	m.agents[id.String()] = a
	m.mu.Unlock()
	return a, nil
}

func (m *Manager) runStartupScript(ctx context.Context, namespace, kernelID, script string) error {
	sess, err := m.kernels.ExecuteStream(ctx, namespace, kernelID, script)
	if err != nil {
		return err
	}
	l := sess.Subscribe()
	defer sess.Unsubscribe(l)
	for ev := range *l {
		if ev.Kind == executor.EventExecuteError || ev.Kind == executor.EventError {
			return fmt.Errorf("startup script failed: %s: %s", ev.EName, ev.EValue)
		}
		if ev.IsTerminator() {
			return nil
		}
	}
	return nil
}

// evictOldest destroys the namespace's oldest-by-activity agent to make
// room for a new one, mirroring kernel.Manager.evictLRU.
func (m *Manager) evictOldest(namespace string) {
	m.mu.RLock()
	var oldestID string
	var oldestAt time.Time
	for key, a := range m.agents {
		if a.ID.Namespace != namespace {
			continue
		}
		la := a.LastActivity()
		if oldestID == "" || la.Before(oldestAt) {
			oldestID = key
			oldestAt = la
		}
	}
	m.mu.RUnlock()
	if oldestID != "" {
		_ = m.destroy(context.Background(), oldestID)
	}
}

func (m *Manager) get(id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, errs.NotFound(id)
	}
	return a, nil
}

func (m *Manager) getForCaller(callerNamespace, id string) (*Agent, error) {
	a, err := m.get(id)
	if err != nil {
		return nil, err
	}
	if a.ID.Namespace != callerNamespace {
		return nil, errs.PermissionDenied(a.ID.String())
	}
	return a, nil
}

// GetAgent returns the record for id, iff callerNamespace owns it.
func (m *Manager) GetAgent(callerNamespace, id string) (*Agent, error) {
	return m.getForCaller(callerNamespace, id)
}

// ListAgents lists agents owned by callerNamespace.
func (m *Manager) ListAgents(callerNamespace string) []*Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Agent
	for _, a := range m.agents {
		if a.ID.Namespace == callerNamespace {
			out = append(out, a)
		}
	}
	return out
}

// AttachKernel binds an already-created kernel (owned by the same
// namespace) to the agent, for the executeCode tool (§4.9 attachKernel).
func (m *Manager) AttachKernel(callerNamespace, agentID, kernelID string) error {
	a, err := m.getForCaller(callerNamespace, agentID)
	if err != nil {
		return err
	}
	if _, err := m.kernels.GetKernel(callerNamespace, kernelID); err != nil {
		return err
	}
	a.mu.Lock()
	a.kernelID = kernelID
	a.mu.Unlock()
	return nil
}

// DetachKernel clears the agent's kernel binding without destroying the
// kernel itself (§4.9 detachKernel).
func (m *Manager) DetachKernel(callerNamespace, agentID string) error {
	a, err := m.getForCaller(callerNamespace, agentID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.kernelID = ""
	a.mu.Unlock()
	return nil
}

// UpdateOptions carries the mutable fields of Update — a nil field is left
// unchanged (see Update's doc for how MaxSteps is clamped).
type UpdateOptions struct {
	Name          *string
	Instructions  *string
	ModelSettings *llm.ModelSettings
	MaxSteps      *int
}

// Update applies the given non-nil fields to the agent (§4.9 update). A
// MaxSteps that is <= 0 or above the manager's MaxStepsCap is stored as the
// cap. Every successful Update also clears the agent's startup error.
func (m *Manager) Update(callerNamespace, agentID string, opts UpdateOptions) error {
	a, err := m.getForCaller(callerNamespace, agentID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if opts.Name != nil {
		a.Name = *opts.Name
	}
	if opts.Instructions != nil {
		a.Instructions = *opts.Instructions
	}
	if opts.ModelSettings != nil {
		a.ModelSettings = *opts.ModelSettings
	}
	if opts.MaxSteps != nil {
		steps := *opts.MaxSteps
		if steps <= 0 || steps > m.cfg.MaxStepsCap {
			steps = m.cfg.MaxStepsCap
		}
		a.MaxSteps = steps
	}
	a.startupError = ""
	return nil
}

// Destroy removes the agent and destroys its attached kernel, if any
// (§4.9 destroy).
func (m *Manager) Destroy(ctx context.Context, callerNamespace, agentID string) error {
	if _, err := m.getForCaller(callerNamespace, agentID); err != nil {
		return err
	}
	return m.destroy(ctx, agentID)
}

func (m *Manager) destroy(ctx context.Context, agentID string) error {
	m.mu.Lock()
	a, ok := m.agents[agentID]
	if !ok {
		m.mu.Unlock()
		return errs.NotFound(agentID)
	}
	delete(m.agents, agentID)
	m.mu.Unlock()

	if a.toolExecutor != nil {
		if err := a.toolExecutor.Close(); err != nil {
			m.log.Warn("closing agent tool executor failed", "agent", agentID, "error", err)
		}
	}
	if a.kernelID != "" {
		if err := m.kernels.DestroyKernel(ctx, a.ID.Namespace, a.kernelID); err != nil {
			m.log.Warn("destroying agent kernel failed", "agent", agentID, "kernel", a.kernelID, "error", err)
		}
	}
	return nil
}

// SetConversation replaces the agent's stored conversation (§4.9
// setConversation).
func (m *Manager) SetConversation(callerNamespace, agentID string, messages []llm.Message) error {
	a, err := m.getForCaller(callerNamespace, agentID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.conversation = append([]llm.Message(nil), messages...)
	a.mu.Unlock()
	return nil
}

// ClearConversation empties the agent's stored conversation (§4.9
// clearConversation).
func (m *Manager) ClearConversation(callerNamespace, agentID string) error {
	return m.SetConversation(callerNamespace, agentID, nil)
}

// GetConversation returns a copy of the agent's stored conversation
// (§4.9 getConversation).
func (m *Manager) GetConversation(callerNamespace, agentID string) ([]llm.Message, error) {
	a, err := m.getForCaller(callerNamespace, agentID)
	if err != nil {
		return nil, err
	}
	return a.Conversation(), nil
}
