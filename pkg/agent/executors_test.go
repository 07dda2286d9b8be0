package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/messenger"
	"github.com/cuemby/burrow/pkg/types"
)

// S1 front half: registration flushes the queue in order behind
// ExecutorRegistered.
func TestRegisterExecutorFlushesQueuedTasks(t *testing.T) {
	h := newHarness(t)
	h.register()
	execPID := types.PID("executor@127.0.0.1:7001")

	h.agent.RunTask(h.frameworkInfo(), "F1", h.scheduler, executorTask("T1", "E1"))
	h.agent.RegisterExecutor(execPID, "F1", "E1")
	h.settle()

	registered := h.msgr.byName(execPID, "ExecutorRegistered")
	require.Len(t, registered, 1)
	msg := registered[0].(messenger.ExecutorRegistered)
	assert.Equal(t, "S1", msg.SlaveID)
	assert.Equal(t, "E1", msg.ExecutorInfo.ExecutorID)

	runs := h.msgr.byName(execPID, "RunTask")
	require.Len(t, runs, 1)
	assert.Equal(t, "T1", runs[0].(messenger.RunTask).Task.TaskID)

	es, ok := h.executorSnapshot("F1", "E1")
	require.True(t, ok)
	assert.Equal(t, execPID, es.Pid)
	assert.Empty(t, es.QueuedTasks)
	require.Len(t, es.LaunchedTasks, 1)
	assert.Equal(t, types.TaskStaging, es.LaunchedTasks[0].State)
}

func TestRegisterExecutorUnknownFramework(t *testing.T) {
	h := newHarness(t)
	h.register()
	execPID := types.PID("executor@127.0.0.1:7001")

	h.agent.RegisterExecutor(execPID, "NOPE", "E1")
	h.settle()

	assert.Len(t, h.msgr.byName(execPID, "ShutdownExecutor"), 1)
}

func TestRegisterExecutorUnknownExecutor(t *testing.T) {
	h := newHarness(t)
	h.register()
	execPID := types.PID("executor@127.0.0.1:7001")

	h.agent.RunTask(h.frameworkInfo(), "F1", h.scheduler, executorTask("T1", "E1"))
	h.agent.RegisterExecutor(execPID, "F1", "E9")
	h.settle()

	assert.Len(t, h.msgr.byName(execPID, "ShutdownExecutor"), 1)
}

// S6: a duplicate registration from a different address is refused and the
// original pid survives.
func TestRegisterExecutorDuplicate(t *testing.T) {
	h := newHarness(t)
	h.register()
	firstPID := types.PID("executor@127.0.0.1:7001")
	imposterPID := types.PID("executor@127.0.0.1:7002")

	h.agent.RunTask(h.frameworkInfo(), "F1", h.scheduler, executorTask("T1", "E1"))
	h.agent.RegisterExecutor(firstPID, "F1", "E1")
	h.agent.RegisterExecutor(imposterPID, "F1", "E1")
	h.settle()

	assert.Len(t, h.msgr.byName(imposterPID, "ShutdownExecutor"), 1)
	assert.Empty(t, h.msgr.byName(firstPID, "ShutdownExecutor"))

	es, _ := h.executorSnapshot("F1", "E1")
	assert.Equal(t, firstPID, es.Pid)
}

func TestRegisterExecutorWhileShuttingDown(t *testing.T) {
	h := newHarness(t)
	h.register()
	execPID := types.PID("executor@127.0.0.1:7001")

	h.agent.RunTask(h.frameworkInfo(), "F1", h.scheduler, executorTask("T1", "E1"))
	h.agent.ShutdownFramework("F1")
	h.agent.RegisterExecutor(execPID, "F1", "E1")
	h.settle()

	assert.Len(t, h.msgr.byName(execPID, "ShutdownExecutor"), 1)
	es, _ := h.executorSnapshot("F1", "E1")
	assert.Empty(t, es.Pid, "refused registration must not set the pid")
}

func TestShutdownFrameworkSendsShutdownAndKillsOnTimeout(t *testing.T) {
	h := newHarness(t)
	h.register()
	execPID := types.PID("executor@127.0.0.1:7001")

	h.agent.RunTask(h.frameworkInfo(), "F1", h.scheduler, executorTask("T1", "E1"))
	h.agent.RegisterExecutor(execPID, "F1", "E1")
	h.agent.ShutdownFramework("F1")
	h.settle()

	assert.Len(t, h.msgr.byName(execPID, "ShutdownExecutor"), 1)
	es, _ := h.executorSnapshot("F1", "E1")
	assert.True(t, es.ShuttingDown)

	// The grace period expires without the executor exiting on its own.
	assert.Eventually(t, func() bool {
		kills := h.launcher.killCalls()
		return len(kills) == 1 && kills[0] == "F1/E1"
	}, time.Second, 10*time.Millisecond)

	// Executors and updates both empty: the framework goes too.
	assert.Eventually(t, func() bool {
		_, ok := h.frameworkSnapshot("F1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

// Property 4: the kill-timeout is guarded by the executor epoch uuid; a
// fresh executor reusing the id is not killed by a stale timer.
func TestShutdownTimeoutUUIDGuard(t *testing.T) {
	h := newHarness(t)
	h.register()
	execPID := types.PID("executor@127.0.0.1:7001")

	h.agent.RunTask(h.frameworkInfo(), "F1", h.scheduler, executorTask("T1", "E1"))
	h.agent.RegisterExecutor(execPID, "F1", "E1")
	h.agent.ShutdownFramework("F1")
	h.settle()

	// A new executor epoch takes over the id before the timer fires.
	h.agent.dispatch(func() {
		framework := h.agent.frameworks["F1"]
		framework.destroyExecutor("E1")
		framework.createExecutor(types.ExecutorInfo{
			ExecutorID:  "E1",
			FrameworkID: "F1",
		}, "/tmp/ignored")
	})
	h.settle()

	time.Sleep(150 * time.Millisecond)
	h.settle()

	assert.Empty(t, h.launcher.killCalls(), "stale timer must not kill the new epoch")
	_, ok := h.executorSnapshot("F1", "E1")
	assert.True(t, ok)
}

// S4: an executor crash drives its live and queued tasks terminal through
// the reliable pipeline and tells the master the executor is gone.
func TestExecutorExitedTransitionsTasks(t *testing.T) {
	h := newHarness(t)
	h.register()
	execPID := types.PID("executor@127.0.0.1:7001")

	h.agent.RunTask(h.frameworkInfo(), "F1", h.scheduler, executorTask("T4", "E3"))
	h.agent.RegisterExecutor(execPID, "F1", "E3")
	h.settle()

	// T4 is running; its update is acknowledged so only the crash updates
	// remain pending afterwards.
	running := types.NewStatusUpdate("F1", "E3", "S1", "T4", types.TaskRunning, "")
	h.agent.StatusUpdate(running)
	h.agent.StatusUpdateAcknowledgement("S1", "F1", "T4", running.UUID)
	h.settle()

	// A command task is still queued when the executor dies.
	h.agent.dispatch(func() {
		executor := h.agent.frameworks["F1"].executors["E3"]
		executor.queuedTasks["T5"] = commandTask("T5")
	})
	h.settle()

	h.agent.ExecutorExited("F1", "E3", 139)
	h.settle()

	// The crash updates: the custom-executor task is lost, the command
	// task failed. Both are pending until acked.
	updates := h.msgr.statusUpdatesTo(h.master)
	var lost, failed types.StatusUpdate
	for _, u := range updates {
		if u.Status.State == types.TaskLost {
			lost = u
		}
		if u.Status.State == types.TaskFailed {
			failed = u
		}
	}
	assert.Equal(t, "T4", lost.Status.TaskID)
	assert.Equal(t, "T5", failed.Status.TaskID)
	assert.NotEqual(t, lost.UUID, failed.UUID)

	fs, ok := h.frameworkSnapshot("F1")
	require.True(t, ok, "pending updates keep the framework alive")
	assert.Equal(t, 2, fs.PendingUpdates)
	assert.Empty(t, fs.Executors)

	// T4 had an explicit executor, so this was not a command executor.
	exited := h.msgr.byName(h.master, "ExitedExecutor")
	require.Len(t, exited, 1)
	assert.Equal(t, 139, exited[0].(messenger.ExitedExecutor).Status)
}

func TestExecutorExitedCommandExecutor(t *testing.T) {
	h := newHarness(t)
	h.register()
	execPID := types.PID("executor@127.0.0.1:7001")

	h.agent.RunTask(h.frameworkInfo(), "F1", h.scheduler, commandTask("T1"))
	// Command executors get the task id as executor id.
	h.agent.RegisterExecutor(execPID, "F1", "T1")
	h.settle()

	h.agent.ExecutorExited("F1", "T1", 1)
	h.settle()

	updates := h.msgr.statusUpdatesTo(h.master)
	require.Len(t, updates, 1)
	assert.Equal(t, types.TaskFailed, updates[0].Status.State)

	// A command executor's exit is fully told by the task update.
	assert.Empty(t, h.msgr.byName(h.master, "ExitedExecutor"))
}

func TestExecutorExitedUnknownIgnored(t *testing.T) {
	h := newHarness(t)
	h.register()

	h.agent.ExecutorExited("NOPE", "E1", 0)
	h.settle()

	assert.Empty(t, h.msgr.statusUpdatesTo(h.master))
	assert.Empty(t, h.msgr.byName(h.master, "ExitedExecutor"))
}

// Property 2 + framework invariant: once the crash updates are acked the
// framework disappears.
func TestFrameworkRemovedAfterLastAck(t *testing.T) {
	h := newHarness(t)
	h.register()
	execPID := types.PID("executor@127.0.0.1:7001")

	h.agent.RunTask(h.frameworkInfo(), "F1", h.scheduler, commandTask("T1"))
	h.agent.RegisterExecutor(execPID, "F1", "T1")
	h.agent.ExecutorExited("F1", "T1", 1)
	h.settle()

	fs, ok := h.frameworkSnapshot("F1")
	require.True(t, ok)
	require.Equal(t, 1, fs.PendingUpdates)

	updates := h.msgr.statusUpdatesTo(h.master)
	require.NotEmpty(t, updates)
	h.agent.StatusUpdateAcknowledgement("S1", "F1", "T1", updates[len(updates)-1].UUID)
	h.settle()

	_, ok = h.frameworkSnapshot("F1")
	assert.False(t, ok, "no executors and no pending updates: framework is gone")
}
