package agent

import (
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/messenger"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// NewMasterDetected records the new master, links to it for liveness and
// starts reliable registration.
func (a *Agent) NewMasterDetected(pid types.PID) {
	a.dispatch(func() { a.newMasterDetected(pid) })
}

// NoMasterDetected clears the master; the agent idles until rediscovery.
func (a *Agent) NoMasterDetected() {
	a.dispatch(func() { a.noMasterDetected() })
}

// Registered delivers the master's registration ack.
func (a *Agent) Registered(slaveID string) {
	a.dispatch(func() { a.registered(slaveID) })
}

// Reregistered delivers the master's reregistration ack.
func (a *Agent) Reregistered(slaveID string) {
	a.dispatch(func() { a.reregistered(slaveID) })
}

func (a *Agent) newMasterDetected(pid types.PID) {
	a.logger.Info().Str("master", string(pid)).Msg("new master detected")

	a.master = pid
	a.msgr.Link(pid)

	a.connected = false
	metrics.Registered.Set(0)

	a.doReliableRegistration()
}

func (a *Agent) noMasterDetected() {
	a.logger.Info().Msg("lost master(s), waiting")
	a.connected = false
	a.master = ""
	metrics.Registered.Set(0)
}

func (a *Agent) registered(slaveID string) {
	a.logger.Info().Str("slave_id", slaveID).Msg("registered with master")
	a.slaveID = slaveID
	a.connected = true
	metrics.Registered.Set(1)

	a.workdirs.SweepStaleSlaveDirs(slaveID)

	a.publish(&events.Event{Type: events.EventAgentRegistered})
}

func (a *Agent) reregistered(slaveID string) {
	if a.slaveID != slaveID {
		// Identity divergence is unrecoverable.
		log.Logger.Fatal().
			Str("slave_id", a.slaveID).
			Str("master_slave_id", slaveID).
			Msg("re-registered but got wrong slave id")
	}
	a.logger.Info().Str("slave_id", slaveID).Msg("re-registered with master")
	a.connected = true
	metrics.Registered.Set(1)

	a.publish(&events.Event{Type: events.EventAgentReregistered})
}

// doReliableRegistration sends Register or Reregister and reschedules
// itself every interval until an ack flips connected.
func (a *Agent) doReliableRegistration() {
	if a.connected || a.master == "" {
		return
	}

	if a.slaveID == "" {
		a.sendToMaster(messenger.RegisterSlave{Slave: a.info})
	} else {
		msg := messenger.ReregisterSlave{
			SlaveID: a.slaveID,
			Slave:   a.info,
		}
		for _, framework := range a.frameworks {
			for _, executor := range framework.executors {
				info := executor.info
				info.FrameworkID = framework.id
				msg.ExecutorInfos = append(msg.ExecutorInfos, info)
				for _, task := range executor.launchedTasks {
					msg.Tasks = append(msg.Tasks, *task)
				}
			}
		}
		a.sendToMaster(msg)
	}
	metrics.RegistrationAttempts.Inc()

	a.after(a.cfg.RegistrationRetryInterval, a.doReliableRegistration)
}

// exited handles a link-loss notification. Losing the master is survivable:
// the agent keeps accepting executor traffic and buffering status updates
// until a new master is detected.
func (a *Agent) exited(pid types.PID) {
	a.logger.Info().Str("pid", string(pid)).Msg("peer exited")

	if a.master == pid {
		a.logger.Warn().Msg("master disconnected, waiting for a new master to be elected")
		a.publish(&events.Event{Type: events.EventAgentDisconnected})
	}
}
