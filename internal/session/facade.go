// Package session wires one conversation turn end to end: permissions,
// sandbox, MCP toolset, system prompt, engine, and the background work that
// follows a turn.
package session

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/deepserve/deepserve/internal/agent"
	"github.com/deepserve/deepserve/internal/mcp"
	"github.com/deepserve/deepserve/internal/observability"
	"github.com/deepserve/deepserve/internal/permissions"
	"github.com/deepserve/deepserve/internal/repository"
	"github.com/deepserve/deepserve/internal/sandbox"
	"github.com/deepserve/deepserve/internal/skills"
	"github.com/deepserve/deepserve/pkg/models"
)

var (
	// ErrTurnInProgress is returned when the conversation already has a
	// running turn. Step ordering requires turns to be serialized.
	ErrTurnInProgress = errors.New("a turn is already in progress for this conversation")

	// ErrForbidden is returned when the caller does not own the conversation.
	ErrForbidden = errors.New("conversation belongs to another user")

	// ErrNoModelConfig is returned when no model configuration matches.
	ErrNoModelConfig = errors.New("no model configuration available")
)

// titleTimeout bounds the background title generation call.
const titleTimeout = 30 * time.Second

// ProviderSource resolves a model configuration to a streaming provider.
// *providers.Factory implements it.
type ProviderSource interface {
	Provider(cfg *models.LLMModelConfig) (agent.LLMProvider, error)
}

// TurnRequest describes one chat turn.
type TurnRequest struct {
	ConversationID  string
	Message         string
	ModelName       string
	EnableSubagents bool
	MCPTools        permissions.Selection
	Skills          permissions.Selection

	// UploadPath is the workspace path of a file uploaded for this turn,
	// e.g. /workspace/uploads/report.xlsx. Recorded in the conversation
	// state so the prompt lists it.
	UploadPath string

	// Emit receives each client frame. A failed emit winds the turn down.
	Emit agent.Emitter
}

// Facade is the entry point for turns. It owns the per-conversation turn
// locks; everything else is shared infrastructure handed in at construction.
type Facade struct {
	repo      *repository.Repository
	providers ProviderSource
	perms     *permissions.Resolver
	mcps      *mcp.Registry
	skills    *skills.Discovery
	sandboxes *sandbox.Manager
	image     sandbox.ImageConfig
	logger    *observability.Logger
	metrics   *observability.Metrics

	mu    sync.Mutex
	turns map[string]*sync.Mutex
}

// Deps collects the facade's collaborators.
type Deps struct {
	Repo      *repository.Repository
	Providers ProviderSource
	Perms     *permissions.Resolver
	MCP       *mcp.Registry
	Skills    *skills.Discovery
	Sandboxes *sandbox.Manager
	Image     sandbox.ImageConfig
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// New creates a Facade.
func New(d Deps) *Facade {
	return &Facade{
		repo:      d.Repo,
		providers: d.Providers,
		perms:     d.Perms,
		mcps:      d.MCP,
		skills:    d.Skills,
		sandboxes: d.Sandboxes,
		image:     d.Image,
		logger:    d.Logger,
		metrics:   d.Metrics,
		turns:     make(map[string]*sync.Mutex),
	}
}

// StartTurn runs one complete turn for the given user, emitting client frames
// through req.Emit. It returns once the turn is finished; background work
// (title generation, sandbox stop) is scheduled before returning.
func (f *Facade) StartTurn(ctx context.Context, user *models.User, req TurnRequest) error {
	lock := f.turnLock(req.ConversationID)
	if !lock.TryLock() {
		return ErrTurnInProgress
	}
	defer lock.Unlock()

	conv, err := f.repo.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return err
	}
	if conv.UserID != user.ID && !user.IsAdmin {
		return ErrForbidden
	}

	if req.UploadPath != "" {
		if conv.State.Uploads == nil {
			conv.State.Uploads = make(map[string]string)
		}
		conv.State.Uploads[path.Base(req.UploadPath)] = req.UploadPath
		if err := f.repo.SaveConversationState(ctx, conv.ID, conv.State); err != nil {
			return fmt.Errorf("record upload: %w", err)
		}
	}

	modelCfg, err := f.resolveModelConfig(ctx, req.ModelName)
	if err != nil {
		return err
	}
	provider, err := f.providers.Provider(modelCfg)
	if err != nil {
		return fmt.Errorf("build provider %s: %w", modelCfg.Name, err)
	}

	// Permission resolution degrades to the empty set on repository errors;
	// built-in tools always remain available.
	effectiveTools := permissions.Intersect(f.perms.ResolveTools(ctx, user.ID), req.MCPTools)
	effectiveSkills := permissions.Intersect(f.perms.ResolveSkills(ctx, user.ID), req.Skills)

	permitted, err := f.skills.Filter(effectiveSkills)
	if err != nil {
		f.logger.Warn(ctx, "skill discovery failed, continuing without skills", "error", err)
		permitted = nil
	}
	skillNames := make([]string, 0, len(permitted))
	for _, sk := range permitted {
		skillNames = append(skillNames, sk.Name)
	}

	// A broken MCP configuration must not block the turn.
	toolset, err := f.mcps.BuildToolset(ctx, effectiveTools)
	if err != nil {
		f.logger.Warn(ctx, "mcp toolset construction failed, continuing with built-ins", "error", err)
		toolset = nil
	}
	if toolset != nil {
		defer toolset.Close()
	}

	sb, err := f.sandboxes.Acquire(ctx, conv.UserID, conv.ID, f.image, skillNames)
	if err != nil {
		return fmt.Errorf("acquire sandbox: %w", err)
	}
	defer f.sandboxes.ScheduleStop(conv.ID)

	files, err := sb.DiscoverFiles(ctx)
	if err != nil {
		return fmt.Errorf("discover workspace files: %w", err)
	}

	state := &agent.TurnState{
		Todos:   conv.State.Todos,
		Uploads: conv.State.Uploads,
		Files:   files,
	}

	var runner agent.SubagentRunner
	var roster map[string]string
	if req.EnableSubagents {
		subagents := agent.NewSubagents(provider, modelCfg.ModelID, nil, func(st *agent.TurnState) *agent.ToolRegistry {
			reg := agent.NewBuiltinRegistry(sb, st, nil)
			agent.AddRemoteTools(reg, toolset)
			return reg
		}, f.logger)
		runner = subagents
		roster = subagents.Descriptions()
	}

	prompt := agent.BuildSystemPrompt(agent.PromptContext{
		Image:           sb.Image(),
		Files:           files,
		Todos:           conv.State.Todos,
		Skills:          permitted,
		EnableSubagents: runner != nil,
		Subagents:       roster,
	})

	registry := agent.NewBuiltinRegistry(sb, state, runner)
	agent.AddRemoteTools(registry, toolset)

	// Collect assistant text on the way out for title generation.
	var assistant strings.Builder
	emit := func(event models.ClientEvent) error {
		if event.Type == models.EventText {
			assistant.WriteString(event.Content)
		}
		return req.Emit(event)
	}

	engine := agent.NewTurnEngine(agent.EngineConfig{
		Provider:       provider,
		Model:          modelCfg.ModelID,
		Registry:       registry,
		Store:          f.repo,
		Emit:           emit,
		Logger:         f.logger,
		Metrics:        f.metrics,
		ConversationID: conv.ID,
		System:         prompt,
		State:          state,
	})

	runErr := engine.Run(ctx, req.Message)

	if agent.ShouldGenerateTitle(conv) && assistant.Len() > 0 {
		f.scheduleTitle(provider, modelCfg.ModelID, conv.ID, req.Message, assistant.String())
	}
	return runErr
}

// scheduleTitle generates the conversation title in the background with a
// fresh context so client disconnects do not cancel it.
func (f *Facade) scheduleTitle(provider agent.LLMProvider, model, conversationID, userMessage, assistantText string) {
	gen := agent.NewTitleGenerator(provider, model, f.repo, f.logger, f.metrics)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), titleTimeout)
		defer cancel()
		if _, err := gen.Generate(ctx, conversationID, userMessage, assistantText); err != nil {
			f.logger.Warn(ctx, "title generation failed", "conversation_id", conversationID, "error", err)
		}
	}()
}

// resolveModelConfig returns the named config, or the default one when no
// name is given.
func (f *Facade) resolveModelConfig(ctx context.Context, name string) (*models.LLMModelConfig, error) {
	if name != "" {
		return f.repo.GetModelConfig(ctx, name)
	}
	configs, err := f.repo.ListModelConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list model configs: %w", err)
	}
	for _, cfg := range configs {
		if cfg.IsDefault {
			return cfg, nil
		}
	}
	if len(configs) > 0 {
		return configs[0], nil
	}
	return nil, ErrNoModelConfig
}

func (f *Facade) turnLock(conversationID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	lock, ok := f.turns[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		f.turns[conversationID] = lock
	}
	return lock
}
