package agent

import (
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/messenger"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// StatusUpdate feeds an update — from an executor or synthesized locally —
// into the reliable pipeline.
func (a *Agent) StatusUpdate(update types.StatusUpdate) {
	a.dispatch(func() { a.statusUpdate(update) })
}

// StatusUpdateAcknowledgement retires a delivered update.
func (a *Agent) StatusUpdateAcknowledgement(slaveID, frameworkID, taskID, uuid string) {
	a.dispatch(func() { a.statusUpdateAcknowledgement(slaveID, frameworkID, taskID, uuid) })
}

func (a *Agent) statusUpdate(update types.StatusUpdate) {
	status := update.Status
	logger := log.WithTask(status.TaskID)
	logger.Info().
		Str("framework_id", update.FrameworkID).
		Str("state", string(status.State)).
		Msg("status update")

	framework, ok := a.frameworks[update.FrameworkID]
	if !ok {
		logger.Warn().Msg("status update error: framework not found")
		a.countInvalidStatusUpdate()
		return
	}

	executor := framework.executorForTask(status.TaskID)
	if executor == nil {
		logger.Warn().Msg("status update error: executor not found for task")
		a.countInvalidStatusUpdate()
		return
	}

	executor.updateTaskState(status.TaskID, status.State)

	if status.State.IsTerminal() {
		executor.removeTask(status.TaskID)
		a.launcher.ResourcesChanged(framework.id, executor.id, executor.resources())
	}

	// Forward to the master and record for resending until acked.
	a.sendToMaster(messenger.StatusUpdateMessage{
		Update: update,
		Pid:    a.msgr.Self(),
	})

	framework.updates[update.UUID] = update

	frameworkID, uuid := framework.id, update.UUID
	a.after(a.cfg.StatusUpdateRetryInterval, func() {
		a.statusUpdateTimeout(frameworkID, uuid)
	})

	a.countTaskState(status.State)
	a.stats.ValidStatusUpdates++
	metrics.ValidStatusUpdates.Inc()

	a.publish(&events.Event{
		Type:        events.EventTaskStateChanged,
		FrameworkID: update.FrameworkID,
		ExecutorID:  update.ExecutorID,
		TaskID:      status.TaskID,
		Message:     string(status.State),
	})
}

// statusUpdateTimeout resends the update if it is still unacknowledged and
// re-arms itself; once the ack erases the entry the timer dies out.
func (a *Agent) statusUpdateTimeout(frameworkID, uuid string) {
	framework, ok := a.frameworks[frameworkID]
	if !ok {
		return
	}

	update, pending := framework.updates[uuid]
	if !pending {
		return
	}

	logger := log.WithTask(update.Status.TaskID)
	logger.Info().
		Str("framework_id", frameworkID).
		Str("uuid", uuid).
		Msg("resending status update")

	a.sendToMaster(messenger.StatusUpdateMessage{
		Update: update,
		Pid:    a.msgr.Self(),
	})
	metrics.StatusUpdateRetries.Inc()

	a.after(a.cfg.StatusUpdateRetryInterval, func() {
		a.statusUpdateTimeout(frameworkID, uuid)
	})
}

func (a *Agent) statusUpdateAcknowledgement(slaveID, frameworkID, taskID, uuid string) {
	framework, ok := a.frameworks[frameworkID]
	if !ok {
		return
	}
	if _, pending := framework.updates[uuid]; !pending {
		return
	}

	logger := log.WithTask(taskID)
	logger.Info().
		Str("framework_id", frameworkID).
		Msg("got acknowledgement of status update")

	delete(framework.updates, uuid)

	a.publish(&events.Event{
		Type:        events.EventUpdateAcknowledged,
		FrameworkID: frameworkID,
		TaskID:      taskID,
	})

	a.removeFrameworkIfIdle(framework)
}

// createStatusUpdate builds an agent-synthesized update.
func (a *Agent) createStatusUpdate(taskID, executorID, frameworkID string, state types.TaskState, reason string) types.StatusUpdate {
	return types.NewStatusUpdate(frameworkID, executorID, a.slaveID, taskID, state, reason)
}

// sendSyntheticUpdate reports a terminal outcome directly to the master,
// outside the pipeline. One-shot: there is no executor whose ack
// round-trip would mean anything, so the master's reconciliation covers a
// lost copy.
func (a *Agent) sendSyntheticUpdate(update types.StatusUpdate) {
	a.sendToMaster(messenger.StatusUpdateMessage{
		Update: update,
		Pid:    a.msgr.Self(),
	})
}

// transitionLiveTask drives one task of a dead executor to a terminal
// state through the reliable pipeline. Command executors map their exit to
// task failure; custom executors' tasks are lost.
func (a *Agent) transitionLiveTask(taskID, executorID, frameworkID string, isCommandExecutor bool) {
	var update types.StatusUpdate
	if isCommandExecutor {
		update = a.createStatusUpdate(taskID, executorID, frameworkID,
			types.TaskFailed, "executor running the task's command failed")
	} else {
		update = a.createStatusUpdate(taskID, executorID, frameworkID,
			types.TaskLost, "executor exited")
	}
	a.statusUpdate(update)
}

func (a *Agent) countInvalidStatusUpdate() {
	a.stats.InvalidStatusUpdates++
	metrics.InvalidStatusUpdates.Inc()
}
