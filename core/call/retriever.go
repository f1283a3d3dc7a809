package call

import (
	"context"
	"time"

	"github.com/raftaar/ambudispatch/core/logger"
)

// Result is the outcome of waiting for a call to finish. A timeout is not an
// error: Completed is false and the caller treats it as no response.
type Result struct {
	Completed       bool
	Transcript      string
	DurationSeconds float64
}

// Retriever polls the provider until an execution reaches a terminal state or
// the wall-clock budget runs out.
type Retriever struct {
	provider     Provider
	maxWait      time.Duration
	pollInterval time.Duration
	log          logger.Logger
}

// NewRetriever builds a Retriever. Zero durations fall back to a 120s budget
// polled every 5s.
func NewRetriever(provider Provider, maxWait, pollInterval time.Duration, log logger.Logger) *Retriever {
	if maxWait <= 0 {
		maxWait = 120 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Retriever{provider: provider, maxWait: maxWait, pollInterval: pollInterval, log: log}
}

// AwaitCompletion blocks until the execution completes, the budget expires or
// ctx is cancelled. Transient provider errors are retried on the poll cadence
// and never surfaced to the caller.
func (r *Retriever) AwaitCompletion(ctx context.Context, executionID string) Result {
	deadline := time.Now().Add(r.maxWait)
	for {
		exec, err := r.provider.GetExecution(ctx, executionID)
		if err != nil {
			r.log.Warnf("execution %s fetch failed, retrying: %v", executionID, err)
		} else if exec.Completed() {
			transcript := exec.ExtractTranscript()
			r.log.Debugw("call completed", map[string]any{
				"execution_id": executionID,
				"duration_s":   exec.DurationSeconds,
				"transcript":   len(transcript),
			})
			return Result{Completed: true, Transcript: transcript, DurationSeconds: exec.DurationSeconds}
		}

		if time.Now().After(deadline) {
			r.log.Warnf("timed out waiting for execution %s after %s", executionID, r.maxWait)
			return Result{}
		}
		select {
		case <-ctx.Done():
			return Result{}
		case <-time.After(r.pollInterval):
		}
	}
}
