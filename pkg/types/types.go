package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PID is the transport address of a process endpoint, in the form
// "name@host:port". PIDs are plain addresses; holding one claims nothing
// about the lifetime of the process behind it.
type PID string

// Name returns the process name part of the pid, or "" when malformed.
func (p PID) Name() string {
	name, _, ok := strings.Cut(string(p), "@")
	if !ok {
		return ""
	}
	return name
}

// Addr returns the host:port part of the pid, or "" when malformed.
func (p PID) Addr() string {
	_, addr, ok := strings.Cut(string(p), "@")
	if !ok {
		return ""
	}
	return addr
}

// NewPID assembles a pid from a process name and a host:port address.
func NewPID(name, addr string) PID {
	return PID(name + "@" + addr)
}

// AgentInfo describes this agent to the master. Immutable after startup.
type AgentInfo struct {
	Hostname       string     `json:"hostname"`
	PublicHostname string     `json:"public_hostname"`
	WebUIPort      int        `json:"webui_port"`
	Resources      Resources  `json:"resources"`
	Attributes     Attributes `json:"attributes"`
}

// FrameworkInfo is the master-supplied description of a tenant application.
type FrameworkInfo struct {
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Executor        *ExecutorInfo `json:"executor,omitempty"` // executor template, if any
	FailoverTimeout float64       `json:"failover_timeout"`
}

// ExecutorInfo describes an executor process to launch for a framework.
type ExecutorInfo struct {
	ExecutorID  string    `json:"executor_id"`
	FrameworkID string    `json:"framework_id"`
	Image       string    `json:"image,omitempty"`
	Command     string    `json:"command"`
	Resources   Resources `json:"resources"`
}

// TaskInfo is a task assignment from the master. A task carries either an
// explicit executor or a plain command; command tasks run under a
// synthesized command executor.
type TaskInfo struct {
	TaskID    string        `json:"task_id"`
	Name      string        `json:"name"`
	Resources Resources     `json:"resources"`
	Executor  *ExecutorInfo `json:"executor,omitempty"`
	Command   string        `json:"command,omitempty"`
}

// HasExecutor reports whether the task names an explicit executor.
func (t *TaskInfo) HasExecutor() bool { return t.Executor != nil }

// HasCommand reports whether the task carries a plain command.
func (t *TaskInfo) HasCommand() bool { return t.Command != "" }

// Task is a launched task tracked by the agent. ExecutorID is empty for
// tasks running under a synthesized command executor.
type Task struct {
	TaskID      string    `json:"task_id"`
	Name        string    `json:"name"`
	FrameworkID string    `json:"framework_id"`
	ExecutorID  string    `json:"executor_id,omitempty"`
	SlaveID     string    `json:"slave_id"`
	State       TaskState `json:"state"`
	Resources   Resources `json:"resources"`
}

// TaskState is the lifecycle state of a task. States only advance; the
// four terminal states are absorbing.
type TaskState string

const (
	TaskStaging  TaskState = "TASK_STAGING"
	TaskStarting TaskState = "TASK_STARTING"
	TaskRunning  TaskState = "TASK_RUNNING"
	TaskFinished TaskState = "TASK_FINISHED"
	TaskFailed   TaskState = "TASK_FAILED"
	TaskKilled   TaskState = "TASK_KILLED"
	TaskLost     TaskState = "TASK_LOST"
)

// TaskStates lists every task state, for stats initialization.
var TaskStates = []TaskState{
	TaskStaging, TaskStarting, TaskRunning,
	TaskFinished, TaskFailed, TaskKilled, TaskLost,
}

// IsTerminal reports whether the state is one of the four terminal states.
func (s TaskState) IsTerminal() bool {
	return s == TaskFinished || s == TaskFailed || s == TaskKilled || s == TaskLost
}

// TaskStatus is a point-in-time report of a task's state.
type TaskStatus struct {
	TaskID  string    `json:"task_id"`
	State   TaskState `json:"state"`
	Message string    `json:"message,omitempty"`
}

// StatusUpdate is a task-state transition record. UUID is the
// acknowledgement correlator for at-least-once delivery to the master.
type StatusUpdate struct {
	FrameworkID string     `json:"framework_id"`
	ExecutorID  string     `json:"executor_id,omitempty"`
	SlaveID     string     `json:"slave_id"`
	Status      TaskStatus `json:"status"`
	Timestamp   time.Time  `json:"timestamp"`
	UUID        string     `json:"uuid"`
}

// NewStatusUpdate builds an update with a fresh correlator.
func NewStatusUpdate(frameworkID, executorID, slaveID, taskID string, state TaskState, message string) StatusUpdate {
	return StatusUpdate{
		FrameworkID: frameworkID,
		ExecutorID:  executorID,
		SlaveID:     slaveID,
		Status: TaskStatus{
			TaskID:  taskID,
			State:   state,
			Message: message,
		},
		Timestamp: time.Now(),
		UUID:      uuid.NewString(),
	}
}

// ResourceStatistics is a usage sample for one executor, produced by the
// isolation backend.
type ResourceStatistics struct {
	Timestamp     time.Time `json:"timestamp"`
	CPUUserTime   float64   `json:"cpu_user_time"`
	CPUSystemTime float64   `json:"cpu_system_time"`
	CPULimit      float64   `json:"cpu_limit"`
	MemoryRSS     uint64    `json:"memory_rss"`
	MemoryLimit   uint64    `json:"memory_limit"`
}
