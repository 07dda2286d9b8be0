package agent

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/isolation"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/messenger"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/workdir"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

// fakeMessenger records every send instead of touching the network.
type fakeMessenger struct {
	mu     sync.Mutex
	self   types.PID
	sent   []sentMessage
	linked []types.PID
}

type sentMessage struct {
	to  types.PID
	msg messenger.Message
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{self: types.PID("slave@127.0.0.1:5051")}
}

func (m *fakeMessenger) Self() types.PID { return m.self }

func (m *fakeMessenger) Send(to types.PID, msg messenger.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{to: to, msg: msg})
	return nil
}

func (m *fakeMessenger) Link(pid types.PID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linked = append(m.linked, pid)
}

func (m *fakeMessenger) Start(h messenger.Handler) error { return nil }
func (m *fakeMessenger) Stop() error                     { return nil }

// byName returns every message of the given wire name sent to the pid.
func (m *fakeMessenger) byName(to types.PID, name string) []messenger.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []messenger.Message
	for _, s := range m.sent {
		if s.to == to && s.msg.Name() == name {
			out = append(out, s.msg)
		}
	}
	return out
}

func (m *fakeMessenger) links() []types.PID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.PID(nil), m.linked...)
}

// statusUpdatesTo extracts the updates inside StatusUpdate messages sent
// to the pid.
func (m *fakeMessenger) statusUpdatesTo(to types.PID) []types.StatusUpdate {
	var out []types.StatusUpdate
	for _, msg := range m.byName(to, "StatusUpdate") {
		out = append(out, msg.(messenger.StatusUpdateMessage).Update)
	}
	return out
}

// fakeLauncher records backend calls; tests drive callbacks through the
// agent's EventSink methods directly.
type fakeLauncher struct {
	mu              sync.Mutex
	agentPID        types.PID
	launches        []launchCall
	kills           []string
	resourceChanges []resourceChange
	priorities      map[string]float64
	sampled         []string
	terminated      bool
}

type launchCall struct {
	frameworkID string
	executorID  string
	directory   string
	resources   types.Resources
}

type resourceChange struct {
	frameworkID string
	executorID  string
	resources   types.Resources
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{}
}

func (l *fakeLauncher) Initialize(sink isolation.EventSink, agentPID types.PID) error {
	l.agentPID = agentPID
	return nil
}

func (l *fakeLauncher) LaunchExecutor(frameworkID string, framework types.FrameworkInfo, executor types.ExecutorInfo, directory string, resources types.Resources) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches = append(l.launches, launchCall{
		frameworkID: frameworkID,
		executorID:  executor.ExecutorID,
		directory:   directory,
		resources:   resources,
	})
}

func (l *fakeLauncher) KillExecutor(frameworkID, executorID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.kills = append(l.kills, frameworkID+"/"+executorID)
}

func (l *fakeLauncher) ResourcesChanged(frameworkID, executorID string, resources types.Resources) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resourceChanges = append(l.resourceChanges, resourceChange{
		frameworkID: frameworkID,
		executorID:  executorID,
		resources:   resources,
	})
}

func (l *fakeLauncher) SetFrameworkPriorities(priorities map[string]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.priorities = priorities
}

func (l *fakeLauncher) SampleUsage(frameworkID, executorID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sampled = append(l.sampled, frameworkID+"/"+executorID)
}

func (l *fakeLauncher) CollectResourceStatistics(frameworkID, executorID string) <-chan types.ResourceStatistics {
	ch := make(chan types.ResourceStatistics)
	close(ch)
	return ch
}

func (l *fakeLauncher) Terminate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.terminated = true
	return nil
}

func (l *fakeLauncher) launchCalls() []launchCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]launchCall(nil), l.launches...)
}

func (l *fakeLauncher) killCalls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.kills...)
}

func (l *fakeLauncher) resourceChangeCalls() []resourceChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]resourceChange(nil), l.resourceChanges...)
}

// harness wires an agent to fakes with fast timers.
type harness struct {
	t        *testing.T
	agent    *Agent
	msgr     *fakeMessenger
	launcher *fakeLauncher

	master    types.PID
	scheduler types.PID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return harnessWithWorkdirRoot(t, newFakeMessenger(), newFakeLauncher(), t.TempDir())
}

func harnessWithWorkdirRoot(t *testing.T, msgr *fakeMessenger, launcher *fakeLauncher, root string) *harness {
	t.Helper()

	workdirs := workdir.NewManager(workdir.Config{
		Root:      root,
		GCTimeout: 50 * time.Millisecond,
	})

	a, err := New(Config{
		Hostname:                  "host1",
		WebUIPort:                 5052,
		Resources:                 types.Resources{"cpus": 4, "mem": 4096},
		Attributes:                types.Attributes{"rack": "r1"},
		RegistrationRetryInterval: 25 * time.Millisecond,
		StatusUpdateRetryInterval: 40 * time.Millisecond,
		ExecutorShutdownTimeout:   60 * time.Millisecond,
		UsageSampleInterval:       time.Hour,
	}, msgr, launcher, workdirs, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	t.Cleanup(a.Stop)

	return &harness{
		t:         t,
		agent:     a,
		msgr:      msgr,
		launcher:  launcher,
		master:    types.PID("master@127.0.0.1:5050"),
		scheduler: types.PID("scheduler@127.0.0.1:6000"),
	}
}

// settle round-trips the event loop so every previously-enqueued handler
// has run.
func (h *harness) settle() {
	h.agent.State()
}

// register brings the agent to connected state with slave id S1.
func (h *harness) register() {
	h.agent.NewMasterDetected(h.master)
	h.agent.Registered("S1")
	h.settle()
}

func (h *harness) frameworkInfo() types.FrameworkInfo {
	return types.FrameworkInfo{Name: "analytics", User: "svc"}
}

// commandTask is a task that runs under a synthesized command executor.
func commandTask(taskID string) types.TaskInfo {
	return types.TaskInfo{
		TaskID:    taskID,
		Name:      taskID,
		Command:   "echo hello",
		Resources: types.Resources{"cpus": 1, "mem": 128},
	}
}

// executorTask is a task bound to an explicit executor.
func executorTask(taskID, executorID string) types.TaskInfo {
	return types.TaskInfo{
		TaskID: taskID,
		Name:   taskID,
		Executor: &types.ExecutorInfo{
			ExecutorID: executorID,
			Command:    "./executor",
			Resources:  types.Resources{"cpus": 0.1, "mem": 32},
		},
		Resources: types.Resources{"cpus": 1, "mem": 128},
	}
}

// frameworkSnapshot finds a framework in the current state snapshot.
func (h *harness) frameworkSnapshot(frameworkID string) (FrameworkSnapshot, bool) {
	for _, fs := range h.agent.State().Frameworks {
		if fs.FrameworkID == frameworkID {
			return fs, true
		}
	}
	return FrameworkSnapshot{}, false
}

// executorSnapshot finds an executor in the current state snapshot.
func (h *harness) executorSnapshot(frameworkID, executorID string) (ExecutorSnapshot, bool) {
	fs, ok := h.frameworkSnapshot(frameworkID)
	if !ok {
		return ExecutorSnapshot{}, false
	}
	for _, es := range fs.Executors {
		if es.ExecutorID == executorID {
			return es, true
		}
	}
	return ExecutorSnapshot{}, false
}
