package agent

import (
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/messenger"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// RunTask accepts a task assignment from the master.
func (a *Agent) RunTask(frameworkInfo types.FrameworkInfo, frameworkID string, pid types.PID, task types.TaskInfo) {
	a.dispatch(func() { a.runTask(frameworkInfo, frameworkID, pid, task) })
}

// KillTask asks the executor running the task to kill it, or reports the
// task lost when there is nothing to ask.
func (a *Agent) KillTask(frameworkID, taskID string) {
	a.dispatch(func() { a.killTask(frameworkID, taskID) })
}

// ShutdownFramework tears down every executor of the framework.
func (a *Agent) ShutdownFramework(frameworkID string) {
	a.dispatch(func() { a.shutdownFramework(frameworkID) })
}

// SchedulerMessage routes a framework's message to one of its executors.
func (a *Agent) SchedulerMessage(slaveID, frameworkID, executorID string, data []byte) {
	a.dispatch(func() { a.schedulerMessage(slaveID, frameworkID, executorID, data) })
}

// ExecutorMessage routes an executor's message back to its scheduler.
func (a *Agent) ExecutorMessage(slaveID, frameworkID, executorID string, data []byte) {
	a.dispatch(func() { a.executorMessage(slaveID, frameworkID, executorID, data) })
}

// UpdateFramework records the scheduler's new address.
func (a *Agent) UpdateFramework(frameworkID string, pid types.PID) {
	a.dispatch(func() { a.updateFramework(frameworkID, pid) })
}

// SetFrameworkPriorities forwards priorities to the isolation backend.
func (a *Agent) SetFrameworkPriorities(priorities map[string]float64) {
	a.dispatch(func() { a.launcher.SetFrameworkPriorities(priorities) })
}

func (a *Agent) runTask(frameworkInfo types.FrameworkInfo, frameworkID string, pid types.PID, task types.TaskInfo) {
	logger := log.WithTask(task.TaskID)
	logger.Info().Str("framework_id", frameworkID).Msg("got assigned task")

	framework, ok := a.frameworks[frameworkID]
	if !ok {
		framework = newFramework(frameworkID, frameworkInfo, pid)
		a.frameworks[frameworkID] = framework
		a.updateGauges()
	}

	executorInfo := framework.executorInfoFor(task)
	executorID := executorInfo.ExecutorID

	executor := framework.executor(executorID)
	switch {
	case executor == nil:
		// First task for this executor: mint a work directory, queue the
		// task and ask the backend to launch the process.
		directory, err := a.workdirs.AllocateExecutorDir(a.slaveID, frameworkID, executorID)
		if err != nil {
			log.Logger.Fatal().Err(err).
				Str("framework_id", frameworkID).
				Str("executor_id", executorID).
				Msg("failed to create executor work directory")
		}

		logger.Info().
			Str("executor_id", executorID).
			Str("directory", directory).
			Msg("launching executor")

		executor = framework.createExecutor(executorInfo, directory)
		executor.queuedTasks[task.TaskID] = task
		a.updateGauges()

		a.launcher.LaunchExecutor(frameworkID, framework.info, executor.info, directory, executor.resources())

		a.publish(&events.Event{
			Type:        events.EventExecutorLaunched,
			FrameworkID: frameworkID,
			ExecutorID:  executorID,
		})

	case executor.shutdown:
		// The executor will never run this task and will never ack an
		// update for it; tell the master once, outside the pipeline.
		logger.Warn().
			Str("executor_id", executorID).
			Msg("asked to run task on executor that is shutting down")
		a.sendSyntheticUpdate(a.createStatusUpdate(
			task.TaskID, executorID, frameworkID, types.TaskLost,
			"executor is shutting down"))

	case executor.pid == "":
		logger.Info().Str("executor_id", executorID).Msg("queuing task until executor registers")
		executor.queuedTasks[task.TaskID] = task
		a.publish(&events.Event{
			Type:        events.EventTaskQueued,
			FrameworkID: frameworkID,
			ExecutorID:  executorID,
			TaskID:      task.TaskID,
		})

	default:
		executor.addTask(task, a.slaveID)
		a.countTaskState(types.TaskStaging)

		a.launcher.ResourcesChanged(frameworkID, executorID, executor.resources())

		a.send(executor.pid, messenger.RunTask{
			Framework:   framework.info,
			FrameworkID: frameworkID,
			Pid:         framework.pid,
			Task:        task,
		})
	}
}

func (a *Agent) killTask(frameworkID, taskID string) {
	logger := log.WithTask(taskID)
	logger.Info().Str("framework_id", frameworkID).Msg("asked to kill task")

	framework, ok := a.frameworks[frameworkID]
	if !ok {
		logger.Warn().Msg("cannot kill task: no such framework")
		a.sendSyntheticUpdate(a.createStatusUpdate(
			taskID, "", frameworkID, types.TaskLost, "framework not found"))
		return
	}

	executor := framework.executorForTask(taskID)
	switch {
	case executor == nil:
		logger.Warn().Msg("cannot kill task: no such task")
		a.sendSyntheticUpdate(a.createStatusUpdate(
			taskID, "", frameworkID, types.TaskLost, "task not found"))

	case executor.pid == "":
		// Never delivered; retract the queued task and report it killed.
		executor.removeTask(taskID)
		a.launcher.ResourcesChanged(frameworkID, executor.id, executor.resources())
		a.sendSyntheticUpdate(a.createStatusUpdate(
			taskID, executor.id, frameworkID, types.TaskKilled,
			"killed before executor registered"))

	default:
		// The executor answers with a real status update.
		a.send(executor.pid, messenger.KillTask{
			FrameworkID: frameworkID,
			TaskID:      taskID,
		})
	}
}

func (a *Agent) shutdownFramework(frameworkID string) {
	framework, ok := a.frameworks[frameworkID]
	if !ok {
		return
	}

	a.logger.Info().Str("framework_id", frameworkID).Msg("shutting down framework")
	for _, executor := range framework.executors {
		a.shutdownExecutor(framework, executor)
	}
}

func (a *Agent) schedulerMessage(slaveID, frameworkID, executorID string, data []byte) {
	framework, ok := a.frameworks[frameworkID]
	if !ok {
		a.logger.Warn().Str("framework_id", frameworkID).Msg("dropping message: framework does not exist")
		a.countInvalidFrameworkMessage()
		return
	}

	executor := framework.executor(executorID)
	switch {
	case executor == nil:
		a.logger.Warn().
			Str("framework_id", frameworkID).
			Str("executor_id", executorID).
			Msg("dropping message: executor does not exist")
		a.countInvalidFrameworkMessage()

	case executor.pid == "":
		a.logger.Warn().
			Str("framework_id", frameworkID).
			Str("executor_id", executorID).
			Msg("dropping message: executor is not running")
		a.countInvalidFrameworkMessage()

	default:
		a.send(executor.pid, messenger.FrameworkToExecutor{
			SlaveID:     slaveID,
			FrameworkID: frameworkID,
			ExecutorID:  executorID,
			Data:        data,
		})
		a.stats.ValidFrameworkMessages++
		metrics.ValidFrameworkMessages.Inc()
	}
}

func (a *Agent) executorMessage(slaveID, frameworkID, executorID string, data []byte) {
	framework, ok := a.frameworks[frameworkID]
	if !ok {
		a.logger.Warn().Str("framework_id", frameworkID).Msg("cannot route executor message: framework does not exist")
		a.countInvalidFrameworkMessage()
		return
	}

	a.send(framework.pid, messenger.ExecutorToFramework{
		SlaveID:     slaveID,
		FrameworkID: frameworkID,
		ExecutorID:  executorID,
		Data:        data,
	})
	a.stats.ValidFrameworkMessages++
	metrics.ValidFrameworkMessages.Inc()
}

func (a *Agent) updateFramework(frameworkID string, pid types.PID) {
	framework, ok := a.frameworks[frameworkID]
	if !ok {
		return
	}
	a.logger.Info().
		Str("framework_id", frameworkID).
		Str("pid", string(pid)).
		Msg("updating framework pid")
	framework.pid = pid
}

func (a *Agent) countTaskState(state types.TaskState) {
	a.stats.Tasks[state]++
	metrics.TasksTotal.WithLabelValues(string(state)).Inc()
}

func (a *Agent) countInvalidFrameworkMessage() {
	a.stats.InvalidFrameworkMessages++
	metrics.InvalidFrameworkMessages.Inc()
}
