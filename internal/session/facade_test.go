package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deepserve/deepserve/internal/agent"
	"github.com/deepserve/deepserve/internal/config"
	"github.com/deepserve/deepserve/internal/mcp"
	"github.com/deepserve/deepserve/internal/observability"
	"github.com/deepserve/deepserve/internal/permissions"
	"github.com/deepserve/deepserve/internal/repository"
	"github.com/deepserve/deepserve/internal/sandbox"
	"github.com/deepserve/deepserve/internal/skills"
	"github.com/deepserve/deepserve/pkg/models"
)

// fakeProvider replays scripted chunk sequences, one per Complete call.
type fakeProvider struct {
	mu       sync.Mutex
	calls    [][]*agent.CompletionChunk
	requests []*agent.CompletionRequest
	block    chan struct{}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var chunks []*agent.CompletionChunk
	if len(p.calls) > 0 {
		chunks = p.calls[0]
		p.calls = p.calls[1:]
	} else {
		chunks = []*agent.CompletionChunk{{Done: true}}
	}
	block := p.block
	p.mu.Unlock()

	out := make(chan *agent.CompletionChunk, len(chunks))
	go func() {
		defer close(out)
		if block != nil {
			<-block
		}
		for _, c := range chunks {
			out <- c
		}
	}()
	return out, nil
}

type fakeSource struct {
	provider agent.LLMProvider
}

func (s *fakeSource) Provider(cfg *models.LLMModelConfig) (agent.LLMProvider, error) {
	return s.provider, nil
}

// nullRuntime satisfies sandbox.Runtime with empty successful results.
type nullRuntime struct{}

func (nullRuntime) EnsureContainer(ctx context.Context, spec sandbox.ContainerSpec) error {
	return nil
}

func (nullRuntime) Exec(ctx context.Context, name string, argv []string, stdin string, timeout time.Duration) (*sandbox.ExecResult, error) {
	return &sandbox.ExecResult{}, nil
}

func (nullRuntime) Stop(ctx context.Context, name string) error   { return nil }
func (nullRuntime) Remove(ctx context.Context, name string) error { return nil }

type fixture struct {
	facade   *Facade
	repo     *repository.Repository
	provider *fakeProvider
	user     *models.User
	conv     *models.Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo, err := repository.Open(repository.Config{})
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	user := &models.User{Username: "alice", IsActive: true}
	if err := repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	conv, err := repo.CreateConversation(ctx, user.ID, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if err := repo.UpsertModelConfig(ctx, &models.LLMModelConfig{
		Name: "default", Provider: "anthropic", ModelID: "claude-test", IsDefault: true,
	}); err != nil {
		t.Fatalf("upsert model config: %v", err)
	}

	logger := observability.NewLogger(observability.LogConfig{Level: "error"})
	tmp := t.TempDir()
	cfg := &config.Config{BaseDir: tmp, HostDir: tmp}
	provider := &fakeProvider{}

	facade := New(Deps{
		Repo:      repo,
		Providers: &fakeSource{provider: provider},
		Perms:     permissions.NewResolver(repo, logger),
		MCP:       mcp.NewRegistry(repo, logger),
		Skills:    skills.NewDiscovery(cfg.SkillsDir()),
		Sandboxes: sandbox.NewManager(cfg, nullRuntime{}, logger, nil),
		Image:     sandbox.DefaultImageConfig(),
		Logger:    logger,
	})
	return &fixture{facade: facade, repo: repo, provider: provider, user: user, conv: conv}
}

func TestStartTurnPersistsAndEmits(t *testing.T) {
	fx := newFixture(t)
	fx.provider.calls = [][]*agent.CompletionChunk{
		{{Text: "你好"}, {Done: true}},
		// Second scripted call serves the background title generation.
		{{Text: "问候"}, {Done: true}},
	}

	var events []models.ClientEvent
	err := fx.facade.StartTurn(context.Background(), fx.user, TurnRequest{
		ConversationID: fx.conv.ID,
		Message:        "hi",
		MCPTools:       permissions.Auto,
		Skills:         permissions.Auto,
		Emit: func(ev models.ClientEvent) error {
			events = append(events, ev)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}

	if len(events) != 1 || events[0].Type != models.EventText || events[0].Content != "你好" {
		t.Fatalf("events = %+v", events)
	}

	msgs, err := fx.repo.ListMessages(context.Background(), fx.conv.ID, 100, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleModel {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}

	// Title generation runs on its own goroutine; poll for the write.
	deadline := time.Now().Add(2 * time.Second)
	for {
		conv, err := fx.repo.GetConversation(context.Background(), fx.conv.ID)
		if err != nil {
			t.Fatalf("get conversation: %v", err)
		}
		if conv.Title == "问候" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("title = %q, want 问候", conv.Title)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartTurnRejectsForeignConversation(t *testing.T) {
	fx := newFixture(t)
	other := &models.User{Username: "mallory", IsActive: true}
	if err := fx.repo.CreateUser(context.Background(), other); err != nil {
		t.Fatalf("create user: %v", err)
	}

	err := fx.facade.StartTurn(context.Background(), other, TurnRequest{
		ConversationID: fx.conv.ID,
		Message:        "hi",
		MCPTools:       permissions.Auto,
		Skills:         permissions.Auto,
		Emit:           func(models.ClientEvent) error { return nil },
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("error = %v, want ErrForbidden", err)
	}
}

func TestStartTurnUnknownConversation(t *testing.T) {
	fx := newFixture(t)
	err := fx.facade.StartTurn(context.Background(), fx.user, TurnRequest{
		ConversationID: "missing",
		Message:        "hi",
		Emit:           func(models.ClientEvent) error { return nil },
	})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestStartTurnSerializesPerConversation(t *testing.T) {
	fx := newFixture(t)
	block := make(chan struct{})
	fx.provider.block = block
	fx.provider.calls = [][]*agent.CompletionChunk{
		{{Text: "slow"}, {Done: true}},
	}

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- fx.facade.StartTurn(context.Background(), fx.user, TurnRequest{
			ConversationID: fx.conv.ID,
			Message:        "first",
			MCPTools:       permissions.Auto,
			Skills:         permissions.Auto,
			Emit: func(models.ClientEvent) error {
				return nil
			},
		})
	}()

	// Wait until the first turn holds the lock (its Complete was called).
	go func() {
		for {
			fx.provider.mu.Lock()
			n := len(fx.provider.requests)
			fx.provider.mu.Unlock()
			if n > 0 {
				close(started)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
	<-started

	err := fx.facade.StartTurn(context.Background(), fx.user, TurnRequest{
		ConversationID: fx.conv.ID,
		Message:        "second",
		MCPTools:       permissions.Auto,
		Skills:         permissions.Auto,
		Emit:           func(models.ClientEvent) error { return nil },
	})
	if !errors.Is(err, ErrTurnInProgress) {
		t.Fatalf("concurrent turn error = %v, want ErrTurnInProgress", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first turn error = %v", err)
	}
}

func TestResolveModelConfigFallbacks(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	cfg, err := fx.facade.resolveModelConfig(ctx, "")
	if err != nil {
		t.Fatalf("resolveModelConfig() error = %v", err)
	}
	if cfg.Name != "default" {
		t.Errorf("config = %q, want default", cfg.Name)
	}

	if _, err := fx.facade.resolveModelConfig(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("named lookup error = %v, want ErrNotFound", err)
	}
}
