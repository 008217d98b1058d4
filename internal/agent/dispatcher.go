package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lilybot/lily/internal/log"
)

// Tool is one retrieval collaborator: a named operation over an external
// backend (vector search, catalog lookup, page fetch) that returns a text
// payload for the drafter.
type Tool interface {
	Name() string
	Description() string
	Call(ctx context.Context, args map[string]any) (string, error)
}

// DefaultCallTimeout bounds each individual tool call. A timed-out call
// yields a failure-marked result; it never blocks the rest of the batch.
const DefaultCallTimeout = 15 * time.Second

// Dispatcher executes a batch of tool calls concurrently and normalizes the
// heterogeneous outcomes into ToolResults, one per call, in input order.
//
// The dispatcher never retries: retry is a loop-controller decision made on
// the next round, if at all.
type Dispatcher struct {
	tools   map[string]Tool
	timeout time.Duration
	logger  log.Logger
}

// NewDispatcher builds a dispatcher over the given tools. A timeout of zero
// selects DefaultCallTimeout.
func NewDispatcher(tools []Tool, timeout time.Duration, logger log.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if logger == nil {
		logger = log.NewNop()
	}

	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		m[t.Name()] = t
	}

	return &Dispatcher{tools: m, timeout: timeout, logger: logger}
}

// Tools returns the registered tools in no particular order.
func (d *Dispatcher) Tools() []Tool {
	out := make([]Tool, 0, len(d.tools))
	for _, t := range d.tools {
		out = append(out, t)
	}
	return out
}

// Has reports whether a tool with the given name is registered.
func (d *Dispatcher) Has(name string) bool {
	_, ok := d.tools[name]
	return ok
}

// Dispatch runs every call in the batch concurrently and returns exactly
// len(batch) results in batch order. A failed or timed-out call becomes a
// failure-marked result; partial retrieval failure never aborts the batch.
// Dispatch returns once every call has completed or individually timed out.
func (d *Dispatcher) Dispatch(ctx context.Context, batch BatchToolCall) []ToolResult {
	results := make([]ToolResult, len(batch))

	var wg sync.WaitGroup
	for i, call := range batch {
		wg.Add(1)
		go func(i int, call ToolCall) {
			defer wg.Done()
			results[i] = d.run(ctx, call)
		}(i, call)
	}
	wg.Wait()

	return results
}

// run executes a single call with its own timeout.
func (d *Dispatcher) run(ctx context.Context, call ToolCall) ToolResult {
	tool, ok := d.tools[call.Name]
	if !ok {
		d.logger.Warn("dispatched call names unregistered tool", "tool", call.Name)
		return FailureResult(call.Name, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name))
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	payload, err := tool.Call(callCtx, call.Arguments)
	if err != nil {
		d.logger.Warn("tool call failed",
			"tool", call.Name,
			"elapsed", time.Since(start),
			"error", err)
		return FailureResult(call.Name, err)
	}

	d.logger.Debug("tool call completed",
		"tool", call.Name,
		"elapsed", time.Since(start),
		"payload_length", len(payload))

	return ToolResult{Source: call.Name, Payload: payload}
}
