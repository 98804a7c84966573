package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/deepserve/deepserve/pkg/models"
)

// scriptedProvider replays one chunk sequence per Complete call.
type scriptedProvider struct {
	calls    [][]*CompletionChunk
	requests []*CompletionRequest
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.requests = append(p.requests, req)
	if len(p.calls) == 0 {
		return nil, errors.New("no scripted response left")
	}
	script := p.calls[0]
	p.calls = p.calls[1:]

	out := make(chan *CompletionChunk)
	go func() {
		defer close(out)
		for _, chunk := range script {
			out <- chunk
		}
	}()
	return out, nil
}

// memoryStore keeps messages in order and assigns no IDs.
type memoryStore struct {
	messages []*models.Message
	state    *models.ConversationState
	failNext bool
}

func (s *memoryStore) NextStepOrder(ctx context.Context, conversationID string) (int, error) {
	return len(s.messages) + 1, nil
}

func (s *memoryStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	if s.failNext {
		s.failNext = false
		return errors.New("insert failed")
	}
	if want := len(s.messages) + 1; msg.StepOrder != want {
		return fmt.Errorf("step_order %d out of sequence, want %d", msg.StepOrder, want)
	}
	clone := *msg
	s.messages = append(s.messages, &clone)
	return nil
}

func (s *memoryStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]*models.Message, error) {
	return s.messages, nil
}

func (s *memoryStore) SaveConversationState(ctx context.Context, id string, state models.ConversationState) error {
	s.state = &state
	return nil
}

// echoTool returns its input back.
type echoTool struct{}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Description() string     { return "echoes input" }
func (echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	return &ToolResult{Content: "echo:" + string(params)}, nil
}

type capturedEvents struct {
	events []models.ClientEvent
}

func (c *capturedEvents) emit(event models.ClientEvent) error {
	c.events = append(c.events, event)
	return nil
}

func newTestEngine(provider LLMProvider, store HistoryStore, emitter *capturedEvents, tools ...Tool) *TurnEngine {
	registry := NewToolRegistry()
	for _, tool := range tools {
		registry.Register(tool)
	}
	return NewTurnEngine(EngineConfig{
		Provider:       provider,
		Model:          "test-model",
		Registry:       registry,
		Store:          store,
		Emit:           emitter.emit,
		ConversationID: "conv-1",
	})
}

func TestPlainTextTurn(t *testing.T) {
	provider := &scriptedProvider{calls: [][]*CompletionChunk{
		{{Text: "hi "}, {Text: "there"}, {Done: true}},
	}}
	store := &memoryStore{}
	emitter := &capturedEvents{}

	engine := newTestEngine(provider, store, emitter)
	if err := engine.Run(context.Background(), "hello"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(store.messages) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(store.messages))
	}
	user, model := store.messages[0], store.messages[1]
	if user.Role != models.RoleUser || user.Content != "hello" || user.StepOrder != 1 {
		t.Errorf("user row = %+v", user)
	}
	if model.Role != models.RoleModel || model.Content != "hi there" || model.StepOrder != 2 {
		t.Errorf("model row = %+v", model)
	}
	if len(model.ToolCalls) != 0 {
		t.Errorf("plain turn persisted tool calls: %+v", model.ToolCalls)
	}

	var texts []string
	for _, event := range emitter.events {
		if event.Type != models.EventText {
			t.Fatalf("unexpected event type %s", event.Type)
		}
		texts = append(texts, event.Content)
	}
	if len(texts) != 2 || texts[0] != "hi " || texts[1] != "there" {
		t.Errorf("text frames = %v", texts)
	}
	if store.state == nil {
		t.Error("conversation state not saved")
	}
}

func TestSingleToolCallTurn(t *testing.T) {
	args := json.RawMessage(`{"value":1}`)
	provider := &scriptedProvider{calls: [][]*CompletionChunk{
		{
			{Text: "checking"},
			{ToolCall: &models.ToolCall{ID: "call-1", Name: "echo", Args: args}},
			{Done: true},
		},
		{{Text: "all done"}, {Done: true}},
	}}
	store := &memoryStore{}
	emitter := &capturedEvents{}

	engine := newTestEngine(provider, store, emitter, echoTool{})
	if err := engine.Run(context.Background(), "run it"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(store.messages) != 4 {
		t.Fatalf("persisted %d messages, want 4", len(store.messages))
	}
	model := store.messages[1]
	if model.Role != models.RoleModel || model.Content != "checking" || len(model.ToolCalls) != 1 {
		t.Errorf("model row = %+v", model)
	}
	toolReturn := store.messages[2]
	if toolReturn.Role != models.RoleToolReturn || toolReturn.ToolCallID != "call-1" ||
		toolReturn.ToolName != "echo" || toolReturn.ToolReturnContent != `echo:{"value":1}` {
		t.Errorf("tool_return row = %+v", toolReturn)
	}
	final := store.messages[3]
	if final.Role != models.RoleModel || final.Content != "all done" {
		t.Errorf("final row = %+v", final)
	}

	// The tool_result frame must come after its tool_call frame.
	callIdx, resultIdx := -1, -1
	for i, event := range emitter.events {
		switch event.Type {
		case models.EventToolCall:
			callIdx = i
		case models.EventToolResult:
			resultIdx = i
		}
	}
	if callIdx == -1 || resultIdx == -1 || resultIdx < callIdx {
		t.Errorf("tool_call at %d, tool_result at %d", callIdx, resultIdx)
	}

	// The second model call sees the assistant turn and the tool result.
	second := provider.requests[1]
	n := len(second.Messages)
	if n < 3 {
		t.Fatalf("second request has %d messages", n)
	}
	if second.Messages[n-2].Role != "assistant" || second.Messages[n-1].Role != "tool" {
		t.Errorf("history tail roles = %s, %s", second.Messages[n-2].Role, second.Messages[n-1].Role)
	}
}

func TestParallelToolCallsFlushedOnce(t *testing.T) {
	provider := &scriptedProvider{calls: [][]*CompletionChunk{
		{
			{ToolCall: &models.ToolCall{ID: "call-a", Name: "echo", Args: json.RawMessage(`{"n":1}`)}},
			{ToolCall: &models.ToolCall{ID: "call-b", Name: "echo", Args: json.RawMessage(`{"n":2}`)}},
			{Done: true},
		},
		{{Text: "combined"}, {Done: true}},
	}}
	store := &memoryStore{}
	emitter := &capturedEvents{}

	engine := newTestEngine(provider, store, emitter, echoTool{})
	if err := engine.Run(context.Background(), "both"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// user, model(2 calls), tool_return a, tool_return b, final model.
	if len(store.messages) != 5 {
		t.Fatalf("persisted %d messages, want 5", len(store.messages))
	}
	model := store.messages[1]
	if len(model.ToolCalls) != 2 {
		t.Fatalf("model row carries %d tool calls, want 2", len(model.ToolCalls))
	}
	if store.messages[2].ToolCallID != "call-a" || store.messages[3].ToolCallID != "call-b" {
		t.Errorf("tool_return order: %s, %s", store.messages[2].ToolCallID, store.messages[3].ToolCallID)
	}

	// step_order stays gap-free.
	for i, msg := range store.messages {
		if msg.StepOrder != i+1 {
			t.Errorf("messages[%d].StepOrder = %d", i, msg.StepOrder)
		}
	}
}

func TestStreamErrorFlushesPrefix(t *testing.T) {
	provider := &scriptedProvider{calls: [][]*CompletionChunk{
		{{Text: "partial"}, {Error: errors.New("upstream hiccup")}},
	}}
	store := &memoryStore{}
	emitter := &capturedEvents{}

	engine := newTestEngine(provider, store, emitter)
	if err := engine.Run(context.Background(), "hi"); err == nil {
		t.Fatal("Run() should fail on stream error")
	}

	// The partial model text is persisted, never rolled back.
	if len(store.messages) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(store.messages))
	}
	if store.messages[1].Content != "partial" {
		t.Errorf("flushed model row = %+v", store.messages[1])
	}

	last := emitter.events[len(emitter.events)-1]
	if last.Type != models.EventError {
		t.Errorf("last frame type = %s, want error", last.Type)
	}
}

func TestInterruptedToolCallPairedOnResume(t *testing.T) {
	provider := &scriptedProvider{calls: [][]*CompletionChunk{
		{
			{ToolCall: &models.ToolCall{ID: "c1", Name: "echo", Args: json.RawMessage(`{}`)}},
			{Error: errors.New("upstream reset")},
		},
		{{Text: "resumed"}, {Done: true}},
	}}
	store := &memoryStore{}
	emitter := &capturedEvents{}

	engine := newTestEngine(provider, store, emitter, echoTool{})
	if err := engine.Run(context.Background(), "start"); err == nil {
		t.Fatal("Run() should fail on stream error")
	}

	// user, model with the pending call, synthetic tool_return.
	if len(store.messages) != 3 {
		t.Fatalf("persisted %d messages, want 3", len(store.messages))
	}
	model := store.messages[1]
	if model.Role != models.RoleModel || len(model.ToolCalls) != 1 {
		t.Fatalf("model row = %+v", model)
	}
	ret := store.messages[2]
	if ret.Role != models.RoleToolReturn || ret.ToolCallID != "c1" || ret.ToolName != "echo" ||
		ret.ToolReturnContent != interruptedToolResult {
		t.Fatalf("tool_return row = %+v", ret)
	}

	// The next turn replays a history where every assistant tool call is
	// followed by its tool message; the provider APIs reject anything else.
	resumed := newTestEngine(provider, store, &capturedEvents{}, echoTool{})
	if err := resumed.Run(context.Background(), "again"); err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}
	req := provider.requests[1]
	wantRoles := []string{"user", "assistant", "tool", "user"}
	if len(req.Messages) != len(wantRoles) {
		t.Fatalf("resumed request carries %d messages, want %d", len(req.Messages), len(wantRoles))
	}
	for i, want := range wantRoles {
		if req.Messages[i].Role != want {
			t.Errorf("Messages[%d].Role = %s, want %s", i, req.Messages[i].Role, want)
		}
	}
	if req.Messages[2].ToolCallID != "c1" {
		t.Errorf("tool message = %+v", req.Messages[2])
	}
}

func TestClientDisconnectPairsPendingCalls(t *testing.T) {
	provider := &scriptedProvider{calls: [][]*CompletionChunk{
		{
			{ToolCall: &models.ToolCall{ID: "c1", Name: "echo", Args: json.RawMessage(`{}`)}},
			{Done: true},
		},
	}}
	store := &memoryStore{}

	registry := NewToolRegistry()
	registry.Register(echoTool{})
	engine := NewTurnEngine(EngineConfig{
		Provider: provider,
		Model:    "test-model",
		Registry: registry,
		Store:    store,
		Emit: func(event models.ClientEvent) error {
			if event.Type == models.EventToolCall {
				return errors.New("client gone")
			}
			return nil
		},
		ConversationID: "conv-1",
	})
	if err := engine.Run(context.Background(), "start"); err == nil {
		t.Fatal("Run() should fail when the client disconnects")
	}

	if len(store.messages) != 3 {
		t.Fatalf("persisted %d messages, want 3", len(store.messages))
	}
	ret := store.messages[2]
	if ret.Role != models.RoleToolReturn || ret.ToolCallID != "c1" ||
		ret.ToolReturnContent != interruptedToolResult {
		t.Fatalf("tool_return row = %+v", ret)
	}
}

func TestCancellationFlushesWithoutErrorFrame(t *testing.T) {
	provider := &scriptedProvider{calls: [][]*CompletionChunk{
		{{Text: "part"}, {Error: context.Canceled}},
	}}
	store := &memoryStore{}
	emitter := &capturedEvents{}

	engine := newTestEngine(provider, store, emitter)
	err := engine.Run(context.Background(), "hi")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(store.messages) != 2 || store.messages[1].Content != "part" {
		t.Fatalf("pending model turn not flushed: %+v", store.messages)
	}
	for _, event := range emitter.events {
		if event.Type == models.EventError {
			t.Error("cancellation emitted an error frame")
		}
	}
}

func TestUnknownToolBecomesErrorResult(t *testing.T) {
	provider := &scriptedProvider{calls: [][]*CompletionChunk{
		{
			{ToolCall: &models.ToolCall{ID: "call-1", Name: "nope", Args: json.RawMessage(`{}`)}},
			{Done: true},
		},
		{{Text: "recovered"}, {Done: true}},
	}}
	store := &memoryStore{}
	emitter := &capturedEvents{}

	engine := newTestEngine(provider, store, emitter)
	if err := engine.Run(context.Background(), "hi"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	toolReturn := store.messages[2]
	if toolReturn.Role != models.RoleToolReturn || toolReturn.ToolReturnContent != "tool not found: nope" {
		t.Errorf("tool_return row = %+v", toolReturn)
	}
}

func TestResumedTurnReplaysHistory(t *testing.T) {
	store := &memoryStore{}
	seed := []*models.Message{
		{ConversationID: "conv-1", Role: models.RoleUser, Content: "first"},
		{ConversationID: "conv-1", Role: models.RoleModel, Content: "reply",
			ToolCalls: []models.ToolCall{{ID: "c0", Name: "echo", Args: json.RawMessage(`{}`)}}},
		{ConversationID: "conv-1", Role: models.RoleToolReturn, ToolCallID: "c0", ToolName: "echo", ToolReturnContent: "echo:{}"},
	}
	for i, msg := range seed {
		msg.StepOrder = i + 1
		store.messages = append(store.messages, msg)
	}

	provider := &scriptedProvider{calls: [][]*CompletionChunk{
		{{Text: "resumed"}, {Done: true}},
	}}
	emitter := &capturedEvents{}
	engine := newTestEngine(provider, store, emitter, echoTool{})
	if err := engine.Run(context.Background(), "second"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	req := provider.requests[0]
	wantRoles := []string{"user", "assistant", "tool", "user"}
	if len(req.Messages) != len(wantRoles) {
		t.Fatalf("request carries %d messages, want %d", len(req.Messages), len(wantRoles))
	}
	for i, want := range wantRoles {
		if req.Messages[i].Role != want {
			t.Errorf("Messages[%d].Role = %s, want %s", i, req.Messages[i].Role, want)
		}
	}
	if req.Messages[2].ToolCallID != "c0" || req.Messages[2].ToolName != "echo" {
		t.Errorf("tool message = %+v", req.Messages[2])
	}

	// New rows continue the step sequence.
	if got := store.messages[len(store.messages)-1].StepOrder; got != 5 {
		t.Errorf("final StepOrder = %d, want 5", got)
	}
}
