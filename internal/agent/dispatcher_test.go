package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// fakeTool answers with a canned payload or error after an optional delay.
type fakeTool struct {
	name    string
	payload string
	err     error
	delay   time.Duration
	calls   atomic.Int64
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "test tool " + f.name }

func (f *fakeTool) Call(ctx context.Context, args map[string]any) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	if q, ok := args["query"].(string); ok {
		return fmt.Sprintf("%s:%s", f.payload, q), nil
	}
	return f.payload, nil
}

func TestDispatchPreservesOrder(t *testing.T) {
	t.Parallel()

	// Earlier calls are slower, so completion order inverts input order.
	d := NewDispatcher([]Tool{
		&fakeTool{name: "slow", payload: "first", delay: 50 * time.Millisecond},
		&fakeTool{name: "mid", payload: "second", delay: 20 * time.Millisecond},
		&fakeTool{name: "fast", payload: "third"},
	}, time.Second, nil)

	results := d.Dispatch(context.Background(), BatchToolCall{
		{Name: "slow"},
		{Name: "mid"},
		{Name: "fast"},
	})

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, want := range []string{"first", "second", "third"} {
		if results[i].Payload != want {
			t.Errorf("results[%d].Payload = %q, want %q", i, results[i].Payload, want)
		}
		if results[i].Failed {
			t.Errorf("results[%d] unexpectedly failed", i)
		}
	}
}

func TestDispatchPartialFailure(t *testing.T) {
	t.Parallel()

	d := NewDispatcher([]Tool{
		&fakeTool{name: "ok", payload: "fine"},
		&fakeTool{name: "broken", err: errors.New("backend down")},
	}, time.Second, nil)

	results := d.Dispatch(context.Background(), BatchToolCall{
		{Name: "ok"},
		{Name: "broken"},
		{Name: "ok"},
	})

	if results[0].Failed || results[2].Failed {
		t.Error("healthy calls should not be failure-marked")
	}
	if !results[1].Failed {
		t.Fatal("failed call should be failure-marked")
	}
	if !strings.Contains(results[1].Payload, "backend down") {
		t.Errorf("failure payload should carry the cause, got %q", results[1].Payload)
	}
	if results[1].Source != "broken" {
		t.Errorf("failure source = %q, want %q", results[1].Source, "broken")
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	t.Parallel()

	d := NewDispatcher([]Tool{&fakeTool{name: "known", payload: "x"}}, time.Second, nil)

	results := d.Dispatch(context.Background(), BatchToolCall{{Name: "missing"}})

	if len(results) != 1 || !results[0].Failed {
		t.Fatalf("unknown tool should yield one failure-marked result, got %+v", results)
	}
	if !strings.Contains(results[0].Payload, "unknown tool") {
		t.Errorf("payload should name the problem, got %q", results[0].Payload)
	}
}

func TestDispatchPerCallTimeout(t *testing.T) {
	t.Parallel()

	d := NewDispatcher([]Tool{
		&fakeTool{name: "hang", payload: "never", delay: time.Minute},
		&fakeTool{name: "quick", payload: "done"},
	}, 30*time.Millisecond, nil)

	start := time.Now()
	results := d.Dispatch(context.Background(), BatchToolCall{
		{Name: "hang"},
		{Name: "quick"},
	})
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("dispatch took %v, timeout not enforced", elapsed)
	}

	if !results[0].Failed {
		t.Error("timed-out call should be failure-marked")
	}
	if results[1].Failed || results[1].Payload != "done" {
		t.Errorf("quick call should succeed, got %+v", results[1])
	}
}

func TestDispatchEmptyBatch(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil, time.Second, nil)

	if results := d.Dispatch(context.Background(), nil); len(results) != 0 {
		t.Errorf("empty batch should yield no results, got %d", len(results))
	}
}

func TestDispatchRunsConcurrently(t *testing.T) {
	t.Parallel()

	const delay = 40 * time.Millisecond
	tools := make([]Tool, 0, 4)
	batch := make(BatchToolCall, 0, 4)
	for i := range 4 {
		name := fmt.Sprintf("t%d", i)
		tools = append(tools, &fakeTool{name: name, payload: name, delay: delay})
		batch = append(batch, ToolCall{Name: name})
	}

	d := NewDispatcher(tools, time.Second, nil)

	start := time.Now()
	d.Dispatch(context.Background(), batch)
	elapsed := time.Since(start)

	// Sequential execution would take 4x the delay.
	if elapsed >= 3*delay {
		t.Errorf("batch of 4 took %v, calls appear sequential", elapsed)
	}
}

func TestDispatcherHas(t *testing.T) {
	t.Parallel()

	d := NewDispatcher([]Tool{&fakeTool{name: "a"}}, 0, nil)

	if !d.Has("a") {
		t.Error("Has(a) = false, want true")
	}
	if d.Has("b") {
		t.Error("Has(b) = true, want false")
	}
}
