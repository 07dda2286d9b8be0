package agent

import (
	"github.com/google/uuid"

	"github.com/cuemby/burrow/pkg/types"
)

// Framework is one tenant application's footprint on this agent: its
// executors and the status updates awaiting acknowledgement. A framework is
// removed exactly when both maps are empty.
type Framework struct {
	id   string
	info types.FrameworkInfo
	pid  types.PID // scheduler address; mutable via UpdateFramework

	executors map[string]*Executor
	updates   map[string]types.StatusUpdate
}

func newFramework(id string, info types.FrameworkInfo, pid types.PID) *Framework {
	return &Framework{
		id:        id,
		info:      info,
		pid:       pid,
		executors: make(map[string]*Executor),
		updates:   make(map[string]types.StatusUpdate),
	}
}

// executorInfoFor resolves the executor a task should run under: the
// explicit one on the task, or a synthesized command executor whose id is
// the task id.
func (f *Framework) executorInfoFor(task types.TaskInfo) types.ExecutorInfo {
	if task.HasExecutor() {
		info := *task.Executor
		info.FrameworkID = f.id
		return info
	}

	info := types.ExecutorInfo{
		ExecutorID:  task.TaskID,
		FrameworkID: f.id,
		Command:     task.Command,
		Resources:   task.Resources.Clone(),
	}
	if f.info.Executor != nil {
		info.Image = f.info.Executor.Image
	}
	return info
}

func (f *Framework) executor(executorID string) *Executor {
	return f.executors[executorID]
}

// executorForTask finds the executor tracking the task, queued or launched.
func (f *Framework) executorForTask(taskID string) *Executor {
	for _, executor := range f.executors {
		if _, ok := executor.launchedTasks[taskID]; ok {
			return executor
		}
		if _, ok := executor.queuedTasks[taskID]; ok {
			return executor
		}
	}
	return nil
}

func (f *Framework) createExecutor(info types.ExecutorInfo, directory string) *Executor {
	executor := &Executor{
		id:            info.ExecutorID,
		frameworkID:   f.id,
		info:          info,
		directory:     directory,
		uuid:          uuid.NewString(),
		queuedTasks:   make(map[string]types.TaskInfo),
		launchedTasks: make(map[string]*types.Task),
	}
	f.executors[info.ExecutorID] = executor
	return executor
}

func (f *Framework) destroyExecutor(executorID string) {
	delete(f.executors, executorID)
}

// idle reports whether the framework can be removed.
func (f *Framework) idle() bool {
	return len(f.executors) == 0 && len(f.updates) == 0
}

// Executor is one supervised executor process epoch. The uuid distinguishes
// epochs so a stale kill-timeout cannot hit a fresh executor reusing the id.
type Executor struct {
	id          string
	frameworkID string
	info        types.ExecutorInfo
	directory   string
	uuid        string

	pid      types.PID // unset until the executor registers
	shutdown bool

	queuedTasks   map[string]types.TaskInfo
	launchedTasks map[string]*types.Task

	prevStats *types.ResourceStatistics
}

// addTask moves a task into the launched set. ExecutorID is only recorded
// for tasks with an explicit executor; its absence marks command tasks.
func (e *Executor) addTask(task types.TaskInfo, slaveID string) *types.Task {
	t := &types.Task{
		TaskID:      task.TaskID,
		Name:        task.Name,
		FrameworkID: e.frameworkID,
		SlaveID:     slaveID,
		State:       types.TaskStaging,
		Resources:   task.Resources.Clone(),
	}
	if task.HasExecutor() {
		t.ExecutorID = e.id
	}
	e.launchedTasks[task.TaskID] = t
	return t
}

func (e *Executor) removeTask(taskID string) {
	delete(e.queuedTasks, taskID)
	delete(e.launchedTasks, taskID)
}

// updateTaskState advances a launched task's state. Terminal states are
// absorbing: a transition out of one is ignored.
func (e *Executor) updateTaskState(taskID string, state types.TaskState) {
	task, ok := e.launchedTasks[taskID]
	if !ok {
		return
	}
	if task.State.IsTerminal() {
		return
	}
	task.State = state
}

// resources is the executor's aggregate footprint: its own overhead plus
// every queued and launched task. This is what the isolation backend
// enforces.
func (e *Executor) resources() types.Resources {
	total := e.info.Resources.Clone()
	for _, task := range e.queuedTasks {
		total = total.Plus(task.Resources)
	}
	for _, task := range e.launchedTasks {
		total = total.Plus(task.Resources)
	}
	return total
}
