package agent

import (
	"sort"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// StateSnapshot is a consistent copy of the catalog, taken on the event
// loop, for the /state.json endpoint.
type StateSnapshot struct {
	SlaveID    string              `json:"slave_id"`
	Master     types.PID           `json:"master,omitempty"`
	Connected  bool                `json:"connected"`
	StartTime  time.Time           `json:"start_time"`
	Info       types.AgentInfo     `json:"info"`
	Frameworks []FrameworkSnapshot `json:"frameworks"`
}

// FrameworkSnapshot mirrors one framework in /state.json.
type FrameworkSnapshot struct {
	FrameworkID    string             `json:"framework_id"`
	Name           string             `json:"name"`
	User           string             `json:"user"`
	Pid            types.PID          `json:"pid"`
	Executors      []ExecutorSnapshot `json:"executors"`
	PendingUpdates int                `json:"pending_updates"`
}

// ExecutorSnapshot mirrors one executor in /state.json.
type ExecutorSnapshot struct {
	ExecutorID    string           `json:"executor_id"`
	UUID          string           `json:"uuid"`
	Pid           types.PID        `json:"pid,omitempty"`
	Directory     string           `json:"directory"`
	ShuttingDown  bool             `json:"shutting_down"`
	QueuedTasks   []types.TaskInfo `json:"queued_tasks"`
	LaunchedTasks []types.Task     `json:"launched_tasks"`
}

// StatsSnapshot is the counter block for /stats.json.
type StatsSnapshot struct {
	Uptime                   float64                    `json:"uptime"`
	Tasks                    map[types.TaskState]uint64 `json:"tasks"`
	ValidStatusUpdates       uint64                     `json:"valid_status_updates"`
	InvalidStatusUpdates     uint64                     `json:"invalid_status_updates"`
	ValidFrameworkMessages   uint64                     `json:"valid_framework_messages"`
	InvalidFrameworkMessages uint64                     `json:"invalid_framework_messages"`
	Registered               bool                       `json:"registered"`
}

// State round-trips the event loop for a consistent catalog snapshot.
// Returns the zero snapshot once the agent is stopping.
func (a *Agent) State() StateSnapshot {
	ch := make(chan StateSnapshot, 1)
	a.dispatch(func() { ch <- a.snapshotState() })
	select {
	case s := <-ch:
		return s
	case <-a.quit:
		return StateSnapshot{}
	}
}

// Stats round-trips the event loop for a consistent counter snapshot.
func (a *Agent) Stats() StatsSnapshot {
	ch := make(chan StatsSnapshot, 1)
	a.dispatch(func() { ch <- a.snapshotStats() })
	select {
	case s := <-ch:
		return s
	case <-a.quit:
		return StatsSnapshot{}
	}
}

func (a *Agent) snapshotState() StateSnapshot {
	snapshot := StateSnapshot{
		SlaveID:    a.slaveID,
		Master:     a.master,
		Connected:  a.connected,
		StartTime:  a.startTime,
		Info:       a.info,
		Frameworks: make([]FrameworkSnapshot, 0, len(a.frameworks)),
	}

	for _, framework := range a.frameworks {
		fs := FrameworkSnapshot{
			FrameworkID:    framework.id,
			Name:           framework.info.Name,
			User:           framework.info.User,
			Pid:            framework.pid,
			Executors:      make([]ExecutorSnapshot, 0, len(framework.executors)),
			PendingUpdates: len(framework.updates),
		}
		for _, executor := range framework.executors {
			es := ExecutorSnapshot{
				ExecutorID:    executor.id,
				UUID:          executor.uuid,
				Pid:           executor.pid,
				Directory:     executor.directory,
				ShuttingDown:  executor.shutdown,
				QueuedTasks:   make([]types.TaskInfo, 0, len(executor.queuedTasks)),
				LaunchedTasks: make([]types.Task, 0, len(executor.launchedTasks)),
			}
			for _, task := range executor.queuedTasks {
				es.QueuedTasks = append(es.QueuedTasks, task)
			}
			for _, task := range executor.launchedTasks {
				es.LaunchedTasks = append(es.LaunchedTasks, *task)
			}
			sort.Slice(es.QueuedTasks, func(i, j int) bool {
				return es.QueuedTasks[i].TaskID < es.QueuedTasks[j].TaskID
			})
			sort.Slice(es.LaunchedTasks, func(i, j int) bool {
				return es.LaunchedTasks[i].TaskID < es.LaunchedTasks[j].TaskID
			})
			fs.Executors = append(fs.Executors, es)
		}
		sort.Slice(fs.Executors, func(i, j int) bool {
			return fs.Executors[i].ExecutorID < fs.Executors[j].ExecutorID
		})
		snapshot.Frameworks = append(snapshot.Frameworks, fs)
	}
	sort.Slice(snapshot.Frameworks, func(i, j int) bool {
		return snapshot.Frameworks[i].FrameworkID < snapshot.Frameworks[j].FrameworkID
	})

	return snapshot
}

func (a *Agent) snapshotStats() StatsSnapshot {
	tasks := make(map[types.TaskState]uint64, len(a.stats.Tasks))
	for state, count := range a.stats.Tasks {
		tasks[state] = count
	}
	return StatsSnapshot{
		Uptime:                   time.Since(a.startTime).Seconds(),
		Tasks:                    tasks,
		ValidStatusUpdates:       a.stats.ValidStatusUpdates,
		InvalidStatusUpdates:     a.stats.InvalidStatusUpdates,
		ValidFrameworkMessages:   a.stats.ValidFrameworkMessages,
		InvalidFrameworkMessages: a.stats.InvalidFrameworkMessages,
		Registered:               a.connected,
	}
}
