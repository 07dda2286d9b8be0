package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

// launchRunningTask puts one explicit-executor task on the agent with a
// registered executor, ready for status traffic.
func launchRunningTask(h *harness, taskID, executorID string) types.PID {
	execPID := types.PID("executor@127.0.0.1:7001")
	h.agent.RunTask(h.frameworkInfo(), "F1", h.scheduler, executorTask(taskID, executorID))
	h.agent.RegisterExecutor(execPID, "F1", executorID)
	h.settle()
	return execPID
}

// S1 back half: the update reaches the master, stays pending, and the ack
// retires it.
func TestStatusUpdateForwardedAndAcked(t *testing.T) {
	h := newHarness(t)
	h.register()
	launchRunningTask(h, "T1", "E1")

	update := types.NewStatusUpdate("F1", "E1", "S1", "T1", types.TaskRunning, "")
	h.agent.StatusUpdate(update)
	h.settle()

	forwarded := h.msgr.statusUpdatesTo(h.master)
	require.Len(t, forwarded, 1)
	assert.Equal(t, update.UUID, forwarded[0].UUID)

	fs, _ := h.frameworkSnapshot("F1")
	assert.Equal(t, 1, fs.PendingUpdates)

	es, _ := h.executorSnapshot("F1", "E1")
	require.Len(t, es.LaunchedTasks, 1)
	assert.Equal(t, types.TaskRunning, es.LaunchedTasks[0].State)

	h.agent.StatusUpdateAcknowledgement("S1", "F1", "T1", update.UUID)
	h.settle()

	fs, _ = h.frameworkSnapshot("F1")
	assert.Equal(t, 0, fs.PendingUpdates)
}

// Property 1: unacknowledged updates are resent every interval; an ack
// stops the resends within one interval.
func TestStatusUpdateRetriesUntilAcked(t *testing.T) {
	h := newHarness(t)
	h.register()
	launchRunningTask(h, "T1", "E1")

	update := types.NewStatusUpdate("F1", "E1", "S1", "T1", types.TaskRunning, "")
	h.agent.StatusUpdate(update)

	// Retry interval is 40ms; expect the original plus retries.
	assert.Eventually(t, func() bool {
		return len(h.msgr.statusUpdatesTo(h.master)) >= 3
	}, time.Second, 10*time.Millisecond)
	for _, u := range h.msgr.statusUpdatesTo(h.master) {
		assert.Equal(t, update.UUID, u.UUID, "retries carry the same correlator")
	}

	h.agent.StatusUpdateAcknowledgement("S1", "F1", "T1", update.UUID)
	h.settle()

	// Any timer armed before the ack may fire once more; after a full
	// interval the pipeline must be quiet.
	time.Sleep(60 * time.Millisecond)
	count := len(h.msgr.statusUpdatesTo(h.master))
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, count, len(h.msgr.statusUpdatesTo(h.master)),
		"acked update must not be resent")
}

// Property 7: repeated acks are no-ops after the first.
func TestAckIdempotence(t *testing.T) {
	h := newHarness(t)
	h.register()
	launchRunningTask(h, "T1", "E1")

	update := types.NewStatusUpdate("F1", "E1", "S1", "T1", types.TaskRunning, "")
	h.agent.StatusUpdate(update)
	h.agent.StatusUpdateAcknowledgement("S1", "F1", "T1", update.UUID)
	h.agent.StatusUpdateAcknowledgement("S1", "F1", "T1", update.UUID)
	h.agent.StatusUpdateAcknowledgement("S1", "F1", "T1", update.UUID)
	h.settle()

	fs, ok := h.frameworkSnapshot("F1")
	require.True(t, ok)
	assert.Equal(t, 0, fs.PendingUpdates)
	assert.Equal(t, uint64(1), h.agent.Stats().ValidStatusUpdates)
}

func TestStatusUpdateUnknownFrameworkDropped(t *testing.T) {
	h := newHarness(t)
	h.register()

	h.agent.StatusUpdate(types.NewStatusUpdate("NOPE", "E1", "S1", "T1", types.TaskRunning, ""))
	h.settle()

	assert.Empty(t, h.msgr.statusUpdatesTo(h.master))
	assert.Equal(t, uint64(1), h.agent.Stats().InvalidStatusUpdates)
}

func TestStatusUpdateUnknownTaskDropped(t *testing.T) {
	h := newHarness(t)
	h.register()
	launchRunningTask(h, "T1", "E1")

	h.agent.StatusUpdate(types.NewStatusUpdate("F1", "E1", "S1", "T9", types.TaskRunning, ""))
	h.settle()

	assert.Empty(t, h.msgr.statusUpdatesTo(h.master))
	assert.Equal(t, uint64(1), h.agent.Stats().InvalidStatusUpdates)
}

// A terminal update retires the task and shrinks the executor's footprint.
func TestTerminalUpdateRemovesTask(t *testing.T) {
	h := newHarness(t)
	h.register()
	launchRunningTask(h, "T1", "E1")
	changesBefore := len(h.launcher.resourceChangeCalls())

	update := types.NewStatusUpdate("F1", "E1", "S1", "T1", types.TaskFinished, "")
	h.agent.StatusUpdate(update)
	h.settle()

	es, _ := h.executorSnapshot("F1", "E1")
	assert.Empty(t, es.LaunchedTasks)

	changes := h.launcher.resourceChangeCalls()
	require.Greater(t, len(changes), changesBefore)
	last := changes[len(changes)-1]
	// Only the executor overhead remains.
	assert.InDelta(t, 0.1, last.resources.Get("cpus"), 1e-9)
}

// Property 3: terminal states are absorbing; a late non-terminal update is
// unaddressable and counted invalid.
func TestTaskStateMonotone(t *testing.T) {
	h := newHarness(t)
	h.register()
	launchRunningTask(h, "T1", "E1")

	h.agent.StatusUpdate(types.NewStatusUpdate("F1", "E1", "S1", "T1", types.TaskFinished, ""))
	h.agent.StatusUpdate(types.NewStatusUpdate("F1", "E1", "S1", "T1", types.TaskRunning, ""))
	h.settle()

	stats := h.agent.Stats()
	assert.Equal(t, uint64(1), stats.Tasks[types.TaskFinished])
	assert.Equal(t, uint64(0), stats.Tasks[types.TaskRunning])
	assert.Equal(t, uint64(1), stats.InvalidStatusUpdates)
}

func TestStatusUpdateCounters(t *testing.T) {
	h := newHarness(t)
	h.register()
	launchRunningTask(h, "T1", "E1")

	h.agent.StatusUpdate(types.NewStatusUpdate("F1", "E1", "S1", "T1", types.TaskStarting, ""))
	h.agent.StatusUpdate(types.NewStatusUpdate("F1", "E1", "S1", "T1", types.TaskRunning, ""))
	h.settle()

	stats := h.agent.Stats()
	assert.Equal(t, uint64(2), stats.ValidStatusUpdates)
	assert.Equal(t, uint64(1), stats.Tasks[types.TaskStarting])
	assert.Equal(t, uint64(1), stats.Tasks[types.TaskRunning])
	// The flush at registration staged the task.
	assert.Equal(t, uint64(1), stats.Tasks[types.TaskStaging])
}
