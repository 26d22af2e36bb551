package engine

import (
	"context"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
)

// poll fetches the task until it settles. It returns nil when the task
// never settled within MaxWait, when too many consecutive fetches failed,
// or when ctx ended.
func (e *Engine) poll(ctx context.Context, t Transport, taskID a2a.TaskID) *a2a.Task {
	ctx, span := e.tracer.StartPoll(ctx, e.name, string(taskID))
	defer span.End()

	attempts := e.cfg.pollAttempts()
	historyLength := e.cfg.HistoryLength
	failures := 0

	for attempt := 1; attempt <= attempts; attempt++ {
		task, err := t.GetTask(ctx, &a2a.TaskQueryParams{ID: taskID, HistoryLength: &historyLength})
		if ctx.Err() != nil {
			return nil
		}

		if err != nil || task == nil {
			failures++
			e.log.Warn("Task poll failed",
				"task_id", taskID,
				"attempt", attempt,
				"failures", failures,
				"error", err)
			if failures >= e.cfg.MaxPollFailures {
				e.log.Error("Giving up on task poll", "task_id", taskID, "failures", failures)
				e.metrics.RecordPoll(ctx, e.name, attempt, false)
				return nil
			}
			backoff := time.Duration(float64(e.cfg.PollInterval) * (1 + float64(failures)*0.5))
			if e.sleep(ctx, backoff) != nil {
				return nil
			}
			continue
		}
		failures = 0

		if settled(task) {
			e.log.Debug("Task settled", "task_id", taskID, "state", task.Status.State, "attempt", attempt)
			e.metrics.RecordPoll(ctx, e.name, attempt, true)
			return task
		}

		if attempt < attempts {
			if e.sleep(ctx, e.cfg.PollInterval) != nil {
				return nil
			}
		}
	}

	e.log.Warn("Task did not settle, returning streamed content",
		"task_id", taskID,
		"max_wait", e.cfg.MaxWait)
	e.metrics.RecordPoll(ctx, e.name, attempts, false)
	return nil
}

// settled reports whether a polled task carries its final content.
// Servers do not agree on the states they report, so a task in any state
// other than working counts as settled once it has artifacts or an agent
// message.
func settled(t *a2a.Task) bool {
	switch t.Status.State {
	case a2a.TaskStateCompleted, a2a.TaskStateFailed, a2a.TaskStateCanceled, a2a.TaskStateRejected:
		return true
	case a2a.TaskStateWorking:
		return false
	}
	if len(t.Artifacts) > 0 {
		return true
	}
	for _, m := range t.History {
		if isAgent(m) {
			return true
		}
	}
	return false
}
