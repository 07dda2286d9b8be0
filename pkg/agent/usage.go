package agent

import (
	"github.com/cuemby/burrow/pkg/messenger"
	"github.com/cuemby/burrow/pkg/types"
)

// UsageUpdate is the backend's push-path sample, produced by SampleUsage.
func (a *Agent) UsageUpdate(frameworkID, executorID string, stats types.ResourceStatistics) {
	a.dispatch(func() { a.sendUsage(frameworkID, executorID, stats) })
}

// queueUsageSampling walks every live executor asking the backend for a
// sample, then re-arms itself.
func (a *Agent) queueUsageSampling() {
	for frameworkID, framework := range a.frameworks {
		for executorID := range framework.executors {
			a.launcher.SampleUsage(frameworkID, executorID)
		}
	}
	a.after(a.cfg.UsageSampleInterval, a.queueUsageSampling)
}

// fetchStatistics starts one round of the per-executor statistics loop:
// ask the backend for a sample and rejoin the event loop with the result.
func (a *Agent) fetchStatistics(frameworkID, executorID string) {
	ch := a.launcher.CollectResourceStatistics(frameworkID, executorID)
	go func() {
		stats, ok := <-ch
		if !ok {
			// Backend could not sample; the loop ends here. The executor's
			// exit callback carries the rest of the story.
			return
		}
		a.dispatch(func() { a.gotStatistics(frameworkID, executorID, stats) })
	}()
}

// gotStatistics reports a sample to the master and re-arms the loop while
// the executor is still live.
func (a *Agent) gotStatistics(frameworkID, executorID string, stats types.ResourceStatistics) {
	usage := messenger.Usage{
		SlaveID:     a.slaveID,
		FrameworkID: frameworkID,
		ExecutorID:  executorID,
		Statistics:  stats,
	}

	var executor *Executor
	if framework, ok := a.frameworks[frameworkID]; ok {
		executor = framework.executor(executorID)
	}

	if executor != nil {
		usage.StillRunning = true
		usage.ExpectedResources = executor.resources()
		usage.Prev = executor.prevStats
		executor.prevStats = &stats
	}

	a.sendToMaster(usage)

	if executor != nil {
		a.after(a.cfg.UsageSampleInterval, func() {
			a.fetchStatistics(frameworkID, executorID)
		})
	}
}

// sendUsage forwards a backend-pushed sample, stamping the slave id.
func (a *Agent) sendUsage(frameworkID, executorID string, stats types.ResourceStatistics) {
	usage := messenger.Usage{
		SlaveID:     a.slaveID,
		FrameworkID: frameworkID,
		ExecutorID:  executorID,
		Statistics:  stats,
	}
	if framework, ok := a.frameworks[frameworkID]; ok {
		if executor := framework.executor(executorID); executor != nil {
			usage.StillRunning = true
			usage.ExpectedResources = executor.resources()
		}
	}
	a.sendToMaster(usage)
}
