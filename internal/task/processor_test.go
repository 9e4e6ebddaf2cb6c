package task

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"PantryPilot/internal/agent"
	xerrors "PantryPilot/internal/errors"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	fail      func(input string) error
}

func (f *fakeExecutor) Run(ctx context.Context, input, model string) (*agent.RunResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		if err := f.fail(input); err != nil {
			return nil, err
		}
	}
	f.processed.Add(1)
	return &agent.RunResult{FinalAnswer: "ok", DebugInfo: []string{"planned 1 task"}}, nil
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 10 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		input := fmt.Sprintf("add item %d", i)
		if _, err := service.Submit(ctx, Request{UserInput: input}); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestProcessorRetriesRetryableFailure(t *testing.T) {
	ctx := context.Background()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)

	var attempts atomic.Int32
	executor := &fakeExecutor{
		fail: func(string) error {
			if attempts.Add(1) == 1 {
				return xerrors.New(xerrors.CodeTimeout, "llm timed out")
			}
			return nil
		},
	}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue)

	submitted, err := service.Submit(ctx, Request{UserInput: "add milk"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// 第一次处理失败后任务被重投,第二次处理成功。
	if err := processor.handle(ctx, submitted.ID); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	afterFirst, err := store.Get(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("get after first: %v", err)
	}
	if afterFirst.Status != StatusPending || afterFirst.ErrorCode != string(xerrors.CodeTimeout) {
		t.Fatalf("expected retryable failure back to pending, got %+v", afterFirst)
	}

	if err := processor.handle(ctx, submitted.ID); err != nil {
		t.Fatalf("second handle: %v", err)
	}
	final, err := store.Get(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("get final: %v", err)
	}
	if final.Status != StatusSucceeded {
		t.Fatalf("expected task to succeed on retry, got %+v", final)
	}
	if final.Result == nil || final.Result.FinalAnswer != "ok" {
		t.Fatalf("unexpected result: %+v", final.Result)
	}
}

func TestProcessorTerminalFailureStopsRetrying(t *testing.T) {
	ctx := context.Background()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)

	executor := &fakeExecutor{
		fail: func(string) error {
			return xerrors.New(xerrors.CodePermissionDenied, "table not allowed")
		},
	}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue)

	submitted, err := service.Submit(ctx, Request{UserInput: "drop everything"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := processor.handle(ctx, submitted.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	final, err := store.Get(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != StatusFailed {
		t.Fatalf("expected terminal failure, got %+v", final)
	}
	if final.ErrorCode != string(xerrors.CodePermissionDenied) {
		t.Fatalf("unexpected error code: %s", final.ErrorCode)
	}
}

type degradeRecovery struct{}

func (degradeRecovery) Recover(_ context.Context, _ *Task, _ error) (*ExecutionResult, error) {
	return &ExecutionResult{}, nil
}

func TestProcessorRecoveryDegradesTask(t *testing.T) {
	ctx := context.Background()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)

	executor := &fakeExecutor{
		fail: func(string) error {
			return xerrors.New(xerrors.CodePermissionDenied, "table not allowed")
		},
	}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithRecoveryHandler(degradeRecovery{}))

	submitted, err := service.Submit(ctx, Request{UserInput: "drop everything"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if err := processor.handle(ctx, submitted.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	final, err := store.Get(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != StatusSucceeded {
		t.Fatalf("expected degraded task to be recorded as succeeded, got %+v", final)
	}
	if final.Result == nil || final.Result.FinalAnswer == "" {
		t.Fatalf("expected degraded result with fallback answer, got %+v", final.Result)
	}
}

func TestServiceSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	service := NewService(store, queue, 3)

	first, err := service.Submit(ctx, Request{ID: "fixed-id", UserInput: "add milk"})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := service.Submit(ctx, Request{ID: "fixed-id", UserInput: "something else"})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.ID != first.ID || second.UserInput != "add milk" {
		t.Fatalf("expected idempotent submit to return original task, got %+v", second)
	}
}
