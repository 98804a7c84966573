package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deepserve/deepserve/internal/observability"
	"github.com/deepserve/deepserve/pkg/models"
)

// defaultMaxIterations bounds the tool loop of one turn.
const defaultMaxIterations = 50

// Emitter delivers one client frame. A failed emit means the client is gone
// and the turn should wind down.
type Emitter func(models.ClientEvent) error

// TurnState is the mutable per-turn state tools operate on. The engine is
// single-producer: between I/O points only one goroutine touches it.
type TurnState struct {
	Todos   []models.Todo
	Uploads map[string]string
	Files   []string
}

// EngineConfig wires one turn.
type EngineConfig struct {
	Provider LLMProvider
	Model    string
	Registry *ToolRegistry
	Store    HistoryStore
	Emit     Emitter
	Logger   *observability.Logger
	Metrics  *observability.Metrics

	ConversationID string
	System         string
	State          *TurnState
	MaxIterations  int
}

// TurnEngine drives one conversation turn: it persists the user message,
// streams model output, executes tool calls and keeps the persisted history
// consistent at every point.
type TurnEngine struct {
	cfg      EngineConfig
	nextStep int
}

// NewTurnEngine creates an engine for a single turn.
func NewTurnEngine(cfg EngineConfig) *TurnEngine {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.State == nil {
		cfg.State = &TurnState{}
	}
	return &TurnEngine{cfg: cfg}
}

// Run executes the turn. The persisted prefix is never rolled back: on any
// failure everything up to and including the last completed persist remains.
func (e *TurnEngine) Run(ctx context.Context, userMessage string) error {
	start := time.Now()
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.TurnsStarted.Inc()
	}
	outcome := "error"
	defer func() {
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.TurnsCompleted.WithLabelValues(outcome).Inc()
			e.cfg.Metrics.TurnDuration.Observe(time.Since(start).Seconds())
		}
	}()

	history, err := ReadHistory(ctx, e.cfg.Store, e.cfg.ConversationID)
	if err != nil {
		return e.fail(ctx, err)
	}
	e.nextStep, err = e.cfg.Store.NextStepOrder(ctx, e.cfg.ConversationID)
	if err != nil {
		return e.fail(ctx, err)
	}

	if err := e.persist(ctx, &models.Message{
		ConversationID: e.cfg.ConversationID,
		Role:           models.RoleUser,
		Content:        userMessage,
	}); err != nil {
		return e.fail(ctx, err)
	}
	history = append(history, CompletionMessage{Role: "user", Content: userMessage})

	for iteration := 0; iteration < e.cfg.MaxIterations; iteration++ {
		final, next, err := e.step(ctx, history)
		if err != nil {
			return err
		}
		if final {
			outcome = "ok"
			return e.saveState(ctx)
		}
		history = next
	}

	err = fmt.Errorf("turn exceeded %d tool iterations", e.cfg.MaxIterations)
	return e.fail(ctx, err)
}

// step performs one model call. It returns final=true when the model
// produced a response with no tool calls.
func (e *TurnEngine) step(ctx context.Context, history []CompletionMessage) (bool, []CompletionMessage, error) {
	req := &CompletionRequest{
		Model:    e.cfg.Model,
		System:   e.cfg.System,
		Messages: history,
		Tools:    e.cfg.Registry.Tools(),
	}
	chunks, err := e.cfg.Provider.Complete(ctx, req)
	if err != nil {
		e.countStreamError()
		return false, nil, e.fail(ctx, fmt.Errorf("llm stream: %w", err))
	}

	var textChunks []string
	var pending []models.ToolCall

	for chunk := range chunks {
		switch {
		case chunk.Error != nil:
			// Flush what the model already said so a later tool result
			// can never appear without its call.
			e.flushModelTurn(ctx, textChunks, pending)
			if isCancellation(chunk.Error) {
				return false, nil, chunk.Error
			}
			e.countStreamError()
			e.emit(models.ErrorEvent(chunk.Error.Error()))
			return false, nil, fmt.Errorf("llm stream: %w", chunk.Error)

		case chunk.Text != "":
			textChunks = append(textChunks, chunk.Text)
			if err := e.emit(models.TextEvent(chunk.Text)); err != nil {
				e.flushModelTurn(ctx, textChunks, pending)
				return false, nil, err
			}

		case chunk.ToolCall != nil:
			pending = append(pending, *chunk.ToolCall)
			if err := e.emit(models.ToolCallEvent(chunk.ToolCall.Name, chunk.ToolCall.Args, chunk.ToolCall.ID)); err != nil {
				e.flushModelTurn(ctx, textChunks, pending)
				return false, nil, err
			}
		}
	}

	text := strings.Join(textChunks, "")
	if len(pending) == 0 {
		if text != "" {
			if err := e.persist(ctx, &models.Message{
				ConversationID: e.cfg.ConversationID,
				Role:           models.RoleModel,
				Content:        text,
			}); err != nil {
				return false, nil, e.fail(ctx, err)
			}
		}
		return true, nil, nil
	}

	// Tool calls pending: flush the model turn before the first result is
	// persisted, then run the calls in order.
	if err := e.persist(ctx, &models.Message{
		ConversationID: e.cfg.ConversationID,
		Role:           models.RoleModel,
		Content:        text,
		ToolCalls:      pending,
	}); err != nil {
		return false, nil, e.fail(ctx, err)
	}
	history = append(history, CompletionMessage{Role: "assistant", Content: text, ToolCalls: pending})

	for i, call := range pending {
		result, err := e.cfg.Registry.Execute(ctx, call.Name, call.Args)
		if err != nil {
			e.persistInterruptedReturns(ctx, pending[i:])
			return false, nil, e.fail(ctx, fmt.Errorf("tool %s: %w", call.Name, err))
		}
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.ToolCalls.WithLabelValues(call.Name).Inc()
		}

		if err := e.persist(ctx, &models.Message{
			ConversationID:    e.cfg.ConversationID,
			Role:              models.RoleToolReturn,
			ToolName:          call.Name,
			ToolCallID:        call.ID,
			ToolReturnContent: result.Content,
		}); err != nil {
			return false, nil, e.fail(ctx, err)
		}

		payload, _ := json.Marshal(result.Content)
		if err := e.emit(models.ToolResultEvent(call.Name, payload, call.ID)); err != nil {
			e.persistInterruptedReturns(ctx, pending[i+1:])
			return false, nil, err
		}
		history = append(history, CompletionMessage{
			Role:        "tool",
			Content:     result.Content,
			ToolCallID:  call.ID,
			ToolName:    call.Name,
			IsToolError: result.IsError,
		})
	}
	return false, history, nil
}

// interruptedToolResult is recorded as the return of a tool call whose
// execution never completed. Every persisted tool call must have a paired
// tool_return, or the replayed history is rejected by the provider APIs.
const interruptedToolResult = "Tool call was interrupted before a result was produced."

// flushModelTurn persists an interrupted model turn, pairing any pending
// tool calls with synthetic returns so the conversation stays resumable.
// Best effort: the stream already failed, so persistence errors are only
// logged.
func (e *TurnEngine) flushModelTurn(ctx context.Context, textChunks []string, pending []models.ToolCall) {
	text := strings.Join(textChunks, "")
	if text == "" && len(pending) == 0 {
		return
	}
	err := e.persist(ctx, &models.Message{
		ConversationID: e.cfg.ConversationID,
		Role:           models.RoleModel,
		Content:        text,
		ToolCalls:      pending,
	})
	if err != nil {
		if e.cfg.Logger != nil {
			e.cfg.Logger.Error(ctx, "flush of interrupted model turn failed",
				"conversation_id", e.cfg.ConversationID, "error", err)
		}
		return
	}
	e.persistInterruptedReturns(ctx, pending)
}

// persistInterruptedReturns writes a synthetic tool_return for each
// unanswered call. Best effort, stops at the first persistence failure.
func (e *TurnEngine) persistInterruptedReturns(ctx context.Context, calls []models.ToolCall) {
	for _, call := range calls {
		err := e.persist(ctx, &models.Message{
			ConversationID:    e.cfg.ConversationID,
			Role:              models.RoleToolReturn,
			ToolName:          call.Name,
			ToolCallID:        call.ID,
			ToolReturnContent: interruptedToolResult,
		})
		if err != nil {
			if e.cfg.Logger != nil {
				e.cfg.Logger.Error(ctx, "flush of interrupted tool return failed",
					"conversation_id", e.cfg.ConversationID, "tool_call_id", call.ID, "error", err)
			}
			return
		}
	}
}

func (e *TurnEngine) persist(ctx context.Context, msg *models.Message) error {
	msg.StepOrder = e.nextStep
	if err := e.cfg.Store.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("persist step %d: %w", msg.StepOrder, err)
	}
	e.nextStep++
	return nil
}

func (e *TurnEngine) saveState(ctx context.Context) error {
	uploads := e.cfg.State.Uploads
	if uploads == nil {
		uploads = map[string]string{}
	}
	state := models.ConversationState{Todos: e.cfg.State.Todos, Uploads: uploads}
	if err := e.cfg.Store.SaveConversationState(ctx, e.cfg.ConversationID, state); err != nil {
		return e.fail(ctx, fmt.Errorf("save state: %w", err))
	}
	return nil
}

// fail emits a terminal error frame and returns the error.
func (e *TurnEngine) fail(ctx context.Context, err error) error {
	if e.cfg.Logger != nil {
		e.cfg.Logger.Error(ctx, "turn failed", "conversation_id", e.cfg.ConversationID, "error", err)
	}
	if !isCancellation(err) {
		e.emit(models.ErrorEvent(err.Error()))
	}
	return err
}

func (e *TurnEngine) emit(event models.ClientEvent) error {
	if e.cfg.Emit == nil {
		return nil
	}
	return e.cfg.Emit(event)
}

func (e *TurnEngine) countStreamError() {
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.StreamErrors.WithLabelValues(e.cfg.Provider.Name()).Inc()
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
