package agent

import (
	"github.com/cuemby/burrow/pkg/messenger"
	"github.com/cuemby/burrow/pkg/types"
)

// Deliver routes one inbound transport message onto the event loop. It
// implements messenger.Handler and returns without blocking.
func (a *Agent) Deliver(from types.PID, msg messenger.Message) {
	switch m := msg.(type) {
	// Master messages
	case messenger.NewMasterDetected:
		a.NewMasterDetected(m.Pid)
	case messenger.NoMasterDetected:
		a.NoMasterDetected()
	case messenger.SlaveRegistered:
		a.Registered(m.SlaveID)
	case messenger.SlaveReregistered:
		a.Reregistered(m.SlaveID)
	case messenger.RunTask:
		a.RunTask(m.Framework, m.FrameworkID, m.Pid, m.Task)
	case messenger.KillTask:
		a.KillTask(m.FrameworkID, m.TaskID)
	case messenger.ShutdownFramework:
		a.ShutdownFramework(m.FrameworkID)
	case messenger.FrameworkToExecutor:
		a.SchedulerMessage(m.SlaveID, m.FrameworkID, m.ExecutorID, m.Data)
	case messenger.UpdateFramework:
		a.UpdateFramework(m.FrameworkID, m.Pid)
	case messenger.StatusUpdateAcknowledgement:
		a.StatusUpdateAcknowledgement(m.SlaveID, m.FrameworkID, m.TaskID, m.UUID)
	case messenger.FrameworkPriorities:
		a.SetFrameworkPriorities(m.Priorities)
	case messenger.Ping:
		a.dispatch(func() { a.send(from, messenger.Pong{}) })
	case messenger.Shutdown:
		a.ShutdownAgent()

	// Executor messages
	case messenger.RegisterExecutor:
		a.RegisterExecutor(from, m.FrameworkID, m.ExecutorID)
	case messenger.StatusUpdateMessage:
		a.StatusUpdate(m.Update)
	case messenger.ExecutorToFramework:
		a.ExecutorMessage(m.SlaveID, m.FrameworkID, m.ExecutorID, m.Data)

	default:
		a.logger.Warn().Str("message", msg.Name()).Msg("dropping unhandled message")
	}
}

// Exited routes a link-loss notification onto the event loop. It
// implements messenger.Handler.
func (a *Agent) Exited(pid types.PID) {
	a.dispatch(func() { a.exited(pid) })
}
