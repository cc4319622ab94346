package metatool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxConcurrency bounds how many upstream calls a single multi_use_tool
// batch can run at once, regardless of what the caller requests, so one
// oversized batch can't starve every other in-flight request for upstream
// connections.
const maxConcurrency = 8

// defaultBatchDeadline bounds only how long a not-yet-started call in the
// batch will wait for a free concurrency slot, used when the caller doesn't
// supply timeout_ms. A call that has already started runs to its own
// completion regardless of the batch deadline, per the gateway's
// "individual calls run to their own completion once started" cancellation
// rule.
const defaultBatchDeadline = 2 * time.Minute

// MultiUseTool implements multi_use_tool: runs every call concurrently
// (clamped to maxConcurrency), preserves the input order in the returned
// results regardless of completion order, and never fails the whole batch
// because one call failed. Calls still waiting for a free slot when the
// batch deadline (args.TimeoutMS, or defaultBatchDeadline if unset) elapses
// are reported as a batch_timeout error rather than started late.
func (h *Handlers) MultiUseTool(ctx context.Context, args MultiUseToolArgs) (*MultiUseToolResult, *ToolError) {
	if len(args.Calls) == 0 {
		return nil, newErr(CodeInvalidParams, "calls must contain at least one entry")
	}

	concurrency := args.Concurrency
	if concurrency <= 0 || concurrency > maxConcurrency {
		concurrency = maxConcurrency
	}

	deadline := defaultBatchDeadline
	if args.TimeoutMS > 0 {
		deadline = time.Duration(args.TimeoutMS) * time.Millisecond
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	sem := make(chan struct{}, concurrency)
	results := make([]MultiCallResult, len(args.Calls))

	var wg sync.WaitGroup
	for i, call := range args.Calls {
		i, call := i, call
		requestID := uuid.NewString()

		// Slots are claimed here, in input order, so a later call never
		// starts ahead of an earlier one that is still waiting.
		select {
		case sem <- struct{}{}:
		case <-deadlineCtx.Done():
			results[i] = MultiCallResult{
				Index:     i,
				RequestID: requestID,
				Error: newErrData(CodeDownstreamError, map[string]string{"reason": "batch_timeout"},
					"batch deadline elapsed before this call started"),
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			res, toolErr := h.UseTool(ctx, call)
			results[i] = MultiCallResult{
				Index:      i,
				RequestID:  requestID,
				Result:     res,
				Error:      toolErr,
				DurationMS: time.Since(start).Milliseconds(),
			}
		}()
	}
	wg.Wait()

	return &MultiUseToolResult{Results: results}, nil
}
