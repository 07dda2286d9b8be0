package messenger

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/cuemby/burrow/pkg/types"
)

// Message is a typed payload exchanged between the agent, the master and
// executors. The name doubles as the route suffix on the wire.
type Message interface {
	Name() string
}

// Master -> agent

type NewMasterDetected struct {
	Pid types.PID `json:"pid"`
}

type NoMasterDetected struct{}

type SlaveRegistered struct {
	SlaveID string `json:"slave_id"`
}

type SlaveReregistered struct {
	SlaveID string `json:"slave_id"`
}

type RunTask struct {
	Framework   types.FrameworkInfo `json:"framework"`
	FrameworkID string              `json:"framework_id"`
	Pid         types.PID           `json:"pid"`
	Task        types.TaskInfo      `json:"task"`
}

type KillTask struct {
	FrameworkID string `json:"framework_id"`
	TaskID      string `json:"task_id"`
}

type ShutdownFramework struct {
	FrameworkID string `json:"framework_id"`
}

type FrameworkToExecutor struct {
	SlaveID     string `json:"slave_id"`
	FrameworkID string `json:"framework_id"`
	ExecutorID  string `json:"executor_id"`
	Data        []byte `json:"data"`
}

type UpdateFramework struct {
	FrameworkID string    `json:"framework_id"`
	Pid         types.PID `json:"pid"`
}

type StatusUpdateAcknowledgement struct {
	SlaveID     string `json:"slave_id"`
	FrameworkID string `json:"framework_id"`
	TaskID      string `json:"task_id"`
	UUID        string `json:"uuid"`
}

type Shutdown struct{}

type FrameworkPriorities struct {
	Priorities map[string]float64 `json:"priorities"`
}

type Ping struct{}

// Executor -> agent

type RegisterExecutor struct {
	FrameworkID string `json:"framework_id"`
	ExecutorID  string `json:"executor_id"`
}

type StatusUpdateMessage struct {
	Update types.StatusUpdate `json:"update"`
	Pid    types.PID          `json:"pid,omitempty"` // sender, stamped on forward
}

type ExecutorToFramework struct {
	SlaveID     string `json:"slave_id"`
	FrameworkID string `json:"framework_id"`
	ExecutorID  string `json:"executor_id"`
	Data        []byte `json:"data"`
}

// Agent -> master

type RegisterSlave struct {
	Slave types.AgentInfo `json:"slave"`
}

type ReregisterSlave struct {
	SlaveID       string               `json:"slave_id"`
	Slave         types.AgentInfo      `json:"slave"`
	ExecutorInfos []types.ExecutorInfo `json:"executor_infos"`
	Tasks         []types.Task         `json:"tasks"`
}

type ExitedExecutor struct {
	SlaveID     string `json:"slave_id"`
	FrameworkID string `json:"framework_id"`
	ExecutorID  string `json:"executor_id"`
	Status      int    `json:"status"`
}

type Usage struct {
	SlaveID           string                    `json:"slave_id"`
	FrameworkID       string                    `json:"framework_id"`
	ExecutorID        string                    `json:"executor_id"`
	Statistics        types.ResourceStatistics  `json:"statistics"`
	Prev              *types.ResourceStatistics `json:"prev,omitempty"`
	ExpectedResources types.Resources           `json:"expected_resources"`
	StillRunning      bool                      `json:"still_running"`
}

type Pong struct{}

// Agent -> executor

type ExecutorRegistered struct {
	ExecutorInfo  types.ExecutorInfo  `json:"executor_info"`
	FrameworkID   string              `json:"framework_id"`
	FrameworkInfo types.FrameworkInfo `json:"framework_info"`
	SlaveID       string              `json:"slave_id"`
	SlaveInfo     types.AgentInfo     `json:"slave_info"`
}

type ShutdownExecutor struct{}

func (NewMasterDetected) Name() string           { return "NewMasterDetected" }
func (NoMasterDetected) Name() string            { return "NoMasterDetected" }
func (SlaveRegistered) Name() string             { return "SlaveRegistered" }
func (SlaveReregistered) Name() string           { return "SlaveReregistered" }
func (RunTask) Name() string                     { return "RunTask" }
func (KillTask) Name() string                    { return "KillTask" }
func (ShutdownFramework) Name() string           { return "ShutdownFramework" }
func (FrameworkToExecutor) Name() string         { return "FrameworkToExecutor" }
func (UpdateFramework) Name() string             { return "UpdateFramework" }
func (StatusUpdateAcknowledgement) Name() string { return "StatusUpdateAcknowledgement" }
func (Shutdown) Name() string                    { return "Shutdown" }
func (FrameworkPriorities) Name() string         { return "FrameworkPriorities" }
func (Ping) Name() string                        { return "PING" }
func (RegisterExecutor) Name() string            { return "RegisterExecutor" }
func (StatusUpdateMessage) Name() string         { return "StatusUpdate" }
func (ExecutorToFramework) Name() string         { return "ExecutorToFramework" }
func (RegisterSlave) Name() string               { return "RegisterSlave" }
func (ReregisterSlave) Name() string             { return "ReregisterSlave" }
func (ExitedExecutor) Name() string              { return "ExitedExecutor" }
func (Usage) Name() string                       { return "Usage" }
func (Pong) Name() string                        { return "PONG" }
func (ExecutorRegistered) Name() string          { return "ExecutorRegistered" }
func (ShutdownExecutor) Name() string            { return "ShutdownExecutor" }

// registry maps wire names to message types for inbound decoding.
var registry = map[string]reflect.Type{}

func register(msgs ...Message) {
	for _, m := range msgs {
		registry[m.Name()] = reflect.TypeOf(m)
	}
}

func init() {
	register(
		NewMasterDetected{}, NoMasterDetected{},
		SlaveRegistered{}, SlaveReregistered{},
		RunTask{}, KillTask{}, ShutdownFramework{},
		FrameworkToExecutor{}, UpdateFramework{},
		StatusUpdateAcknowledgement{}, Shutdown{}, FrameworkPriorities{}, Ping{},
		RegisterExecutor{}, StatusUpdateMessage{}, ExecutorToFramework{},
		RegisterSlave{}, ReregisterSlave{}, ExitedExecutor{}, Usage{}, Pong{},
		ExecutorRegistered{}, ShutdownExecutor{},
	)
}

// Decode rebuilds a message from its wire name and JSON body.
func Decode(name string, data []byte) (Message, error) {
	typ, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown message %q", name)
	}
	ptr := reflect.New(typ)
	if len(data) > 0 {
		if err := json.Unmarshal(data, ptr.Interface()); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
	}
	return ptr.Elem().Interface().(Message), nil
}
