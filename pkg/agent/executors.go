package agent

import (
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/messenger"
	"github.com/cuemby/burrow/pkg/types"
)

// RegisterExecutor handles an executor process calling back after launch.
// The sender address becomes the executor's pid.
func (a *Agent) RegisterExecutor(from types.PID, frameworkID, executorID string) {
	a.dispatch(func() { a.registerExecutor(from, frameworkID, executorID) })
}

// ExecutorStarted is the backend's notification that the executor process
// is running; it kicks off the per-executor statistics loop.
func (a *Agent) ExecutorStarted(frameworkID, executorID string, pid int) {
	a.dispatch(func() {
		logger := log.WithExecutor(frameworkID, executorID)
		logger.Info().
			Int("os_pid", pid).
			Msg("executor started")
		a.fetchStatistics(frameworkID, executorID)
	})
}

// ExecutorExited is the backend's notification that the executor process
// is gone.
func (a *Agent) ExecutorExited(frameworkID, executorID string, status int) {
	a.dispatch(func() { a.executorExited(frameworkID, executorID, status) })
}

// ShutdownAgent terminates the agent; used by the master's Shutdown
// message.
func (a *Agent) ShutdownAgent() {
	a.logger.Info().Msg("agent asked to shut down")
	go a.Stop()
}

func (a *Agent) registerExecutor(from types.PID, frameworkID, executorID string) {
	logger := log.WithExecutor(frameworkID, executorID)
	logger.Info().Str("from", string(from)).Msg("got executor registration")

	framework, ok := a.frameworks[frameworkID]
	if !ok {
		// Framework is gone; tell the executor to exit.
		logger.Warn().Msg("framework does not exist, telling executor to exit")
		a.send(from, messenger.ShutdownExecutor{})
		return
	}

	executor := framework.executor(executorID)
	switch {
	case executor == nil:
		logger.Warn().Msg("unexpected executor registering")
		a.send(from, messenger.ShutdownExecutor{})

	case executor.pid != "":
		logger.Warn().Msg("executor is already registered")
		a.send(from, messenger.ShutdownExecutor{})

	case executor.shutdown:
		logger.Warn().Msg("executor should be shutting down")
		a.send(from, messenger.ShutdownExecutor{})

	default:
		executor.pid = from

		// Account for the queued tasks before flushing them.
		for _, task := range executor.queuedTasks {
			executor.addTask(task, a.slaveID)
		}

		a.launcher.ResourcesChanged(frameworkID, executorID, executor.resources())

		a.send(executor.pid, messenger.ExecutorRegistered{
			ExecutorInfo:  executor.info,
			FrameworkID:   frameworkID,
			FrameworkInfo: framework.info,
			SlaveID:       a.slaveID,
			SlaveInfo:     a.info,
		})

		logger.Info().Int("queued", len(executor.queuedTasks)).Msg("flushing queued tasks")
		for _, task := range executor.queuedTasks {
			a.countTaskState(types.TaskStaging)
			a.send(executor.pid, messenger.RunTask{
				Framework:   framework.info,
				FrameworkID: frameworkID,
				Pid:         framework.pid,
				Task:        task,
			})
		}
		executor.queuedTasks = make(map[string]types.TaskInfo)

		a.publish(&events.Event{
			Type:        events.EventExecutorRegistered,
			FrameworkID: frameworkID,
			ExecutorID:  executorID,
		})
	}
}

// shutdownExecutor starts a graceful shutdown: ask politely, then arm the
// kill timeout against this executor epoch.
func (a *Agent) shutdownExecutor(framework *Framework, executor *Executor) {
	logger := log.WithExecutor(framework.id, executor.id)
	logger.Info().Msg("shutting down executor")

	// If the executor hasn't registered yet this is dropped on the floor;
	// the backend's exit callback still fires eventually.
	if executor.pid != "" {
		a.send(executor.pid, messenger.ShutdownExecutor{})
	}

	executor.shutdown = true

	frameworkID, executorID, epoch := framework.id, executor.id, executor.uuid
	a.after(a.cfg.ExecutorShutdownTimeout, func() {
		a.shutdownExecutorTimeout(frameworkID, executorID, epoch)
	})

	a.publish(&events.Event{
		Type:        events.EventExecutorShutdown,
		FrameworkID: framework.id,
		ExecutorID:  executor.id,
	})
}

// shutdownExecutorTimeout fires the kill if the same executor epoch is
// still around; a fresh executor reusing the id has a different uuid and
// is left alone.
func (a *Agent) shutdownExecutorTimeout(frameworkID, executorID, epoch string) {
	framework, ok := a.frameworks[frameworkID]
	if !ok {
		return
	}

	executor := framework.executor(executorID)
	if executor != nil && executor.uuid == epoch {
		logger := log.WithExecutor(frameworkID, executorID)
		logger.Info().Msg("killing executor")

		a.launcher.KillExecutor(frameworkID, executorID)
		a.workdirs.ScheduleDeletion(executor.directory)
		a.publish(&events.Event{
			Type:        events.EventDirectoryScheduled,
			FrameworkID: frameworkID,
			ExecutorID:  executorID,
			Message:     executor.directory,
		})
		framework.destroyExecutor(executorID)
		a.updateGauges()
	}

	a.removeFrameworkIfIdle(framework)
}

// executorExited reaps the executor: every task that had not reached a
// terminal state is driven to one through the reliable pipeline.
func (a *Agent) executorExited(frameworkID, executorID string, status int) {
	logger := log.WithExecutor(frameworkID, executorID)
	logger.Info().Int("status", status).Msg("executor exited")

	framework, ok := a.frameworks[frameworkID]
	if !ok {
		logger.Warn().Msg("framework for exited executor is no longer valid")
		return
	}

	executor := framework.executor(executorID)
	if executor == nil {
		logger.Warn().Msg("unknown executor exited")
		return
	}

	// Snapshot both maps: pumping a terminal update through the pipeline
	// removes the task from the executor.
	launched := make([]*types.Task, 0, len(executor.launchedTasks))
	for _, task := range executor.launchedTasks {
		launched = append(launched, task)
	}
	queued := make([]types.TaskInfo, 0, len(executor.queuedTasks))
	for _, task := range executor.queuedTasks {
		queued = append(queued, task)
	}

	// Launched tasks are the stronger evidence for whether this was a
	// command executor; queued tasks only decide when nothing launched.
	isCommandExecutor := false
	sawLaunched := false

	for _, task := range launched {
		if task.State.IsTerminal() {
			continue
		}
		isCommand := task.ExecutorID == ""
		if !sawLaunched {
			isCommandExecutor = isCommand
			sawLaunched = true
		}
		a.transitionLiveTask(task.TaskID, executorID, frameworkID, isCommand)
	}

	for _, task := range queued {
		isCommand := task.HasCommand()
		if !sawLaunched {
			isCommandExecutor = isCommandExecutor || isCommand
		}
		a.transitionLiveTask(task.TaskID, executorID, frameworkID, isCommand)
	}

	// A command executor's exit is fully described by its task updates;
	// anything else the master hears about directly.
	if !isCommandExecutor {
		a.sendToMaster(messenger.ExitedExecutor{
			SlaveID:     a.slaveID,
			FrameworkID: frameworkID,
			ExecutorID:  executorID,
			Status:      status,
		})
	}

	a.workdirs.ScheduleDeletion(executor.directory)
	a.publish(&events.Event{
		Type:        events.EventExecutorExited,
		FrameworkID: frameworkID,
		ExecutorID:  executorID,
	})

	framework.destroyExecutor(executorID)
	a.updateGauges()
	a.removeFrameworkIfIdle(framework)
}
