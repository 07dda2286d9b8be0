package isolation

import (
	"github.com/cuemby/burrow/pkg/types"
)

// EventSink receives callbacks from a Launcher. Implementations must not
// block: the agent enqueues each callback onto its event loop.
type EventSink interface {
	// ExecutorStarted fires once the executor process is running.
	ExecutorStarted(frameworkID, executorID string, pid int)

	// ExecutorExited fires when the executor process is gone, with its
	// exit status (negative when the process never started).
	ExecutorExited(frameworkID, executorID string, status int)

	// UsageUpdate delivers a sample requested via SampleUsage.
	UsageUpdate(frameworkID, executorID string, stats types.ResourceStatistics)
}

// Launcher starts, isolates, samples and kills executor processes. Every
// method returns immediately; the work runs out-of-band and surfaces
// through the EventSink or the returned statistics channel. The agent
// accounts resources, the launcher enforces them.
type Launcher interface {
	// Initialize wires the callback sink and the agent's pid (exported to
	// executors so they can register back).
	Initialize(sink EventSink, agentPID types.PID) error

	// LaunchExecutor starts an executor process in the given work
	// directory with the given resource limits.
	LaunchExecutor(frameworkID string, framework types.FrameworkInfo, executor types.ExecutorInfo, directory string, resources types.Resources)

	// KillExecutor forcibly terminates an executor process.
	KillExecutor(frameworkID, executorID string)

	// ResourcesChanged applies new aggregate limits for an executor.
	ResourcesChanged(frameworkID, executorID string, resources types.Resources)

	// SetFrameworkPriorities adjusts relative CPU weight per framework.
	SetFrameworkPriorities(priorities map[string]float64)

	// SampleUsage requests a usage sample, delivered via UsageUpdate.
	SampleUsage(frameworkID, executorID string)

	// CollectResourceStatistics requests one statistics sample. The
	// channel yields at most one value and is then closed; a channel
	// closed without a value means the sample could not be taken.
	CollectResourceStatistics(frameworkID, executorID string) <-chan types.ResourceStatistics

	// Terminate stops the launcher and releases its resources.
	Terminate() error
}
