package isolation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	v1 "github.com/containerd/cgroups/v3/cgroup1/stats"
	v2 "github.com/containerd/cgroups/v3/cgroup2/stats"
	typeurl "github.com/containerd/typeurl/v2"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace for Burrow executors
	DefaultNamespace = "burrow"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// executorMountPoint is where the executor's work directory appears
	// inside its container
	executorMountPoint = "/burrow"

	cpuPeriod = uint64(100000)
)

// ContainerdLauncher runs executors as containerd containers in the burrow
// namespace. The executor's work directory is bind-mounted at /burrow and
// its computed resources become cgroup limits.
type ContainerdLauncher struct {
	client    *containerd.Client
	namespace string
	sink      EventSink
	agentPID  types.PID
	logger    zerolog.Logger

	mu    sync.Mutex
	execs map[string]*executorHandle
}

type executorHandle struct {
	frameworkID string
	executorID  string
	container   containerd.Container
	task        containerd.Task
}

// NewContainerdLauncher connects to containerd at socketPath.
func NewContainerdLauncher(socketPath string) (*ContainerdLauncher, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdLauncher{
		client:    client,
		namespace: DefaultNamespace,
		logger:    log.WithComponent("isolation"),
		execs:     make(map[string]*executorHandle),
	}, nil
}

// Initialize wires the callback sink and the agent pid.
func (l *ContainerdLauncher) Initialize(sink EventSink, agentPID types.PID) error {
	l.sink = sink
	l.agentPID = agentPID
	return nil
}

// Terminate kills every remaining executor and closes the client.
func (l *ContainerdLauncher) Terminate() error {
	l.mu.Lock()
	handles := make([]*executorHandle, 0, len(l.execs))
	for _, h := range l.execs {
		handles = append(handles, h)
	}
	l.mu.Unlock()

	ctx := namespaces.WithNamespace(context.Background(), l.namespace)
	for _, h := range handles {
		if err := h.task.Kill(ctx, syscall.SIGKILL); err != nil {
			l.logger.Warn().Err(err).Str("executor_id", h.executorID).Msg("failed to kill executor on terminate")
		}
	}

	return l.client.Close()
}

// LaunchExecutor pulls the executor image, creates the container with the
// work directory mounted and the resource limits applied, and starts it.
// Failure to start surfaces as ExecutorExited with a negative status.
func (l *ContainerdLauncher) LaunchExecutor(frameworkID string, framework types.FrameworkInfo, executor types.ExecutorInfo, directory string, resources types.Resources) {
	go func() {
		ctx := namespaces.WithNamespace(context.Background(), l.namespace)

		if err := l.launch(ctx, frameworkID, framework, executor, directory, resources); err != nil {
			l.logger.Error().Err(err).
				Str("framework_id", frameworkID).
				Str("executor_id", executor.ExecutorID).
				Msg("failed to launch executor")
			l.sink.ExecutorExited(frameworkID, executor.ExecutorID, -1)
		}
	}()
}

func (l *ContainerdLauncher) launch(ctx context.Context, frameworkID string, framework types.FrameworkInfo, executor types.ExecutorInfo, directory string, resources types.Resources) error {
	if executor.Image == "" {
		return fmt.Errorf("executor %s has no image", executor.ExecutorID)
	}

	image, err := l.client.Pull(ctx, executor.Image, containerd.WithPullUnpack)
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", executor.Image, err)
	}

	id := containerID(frameworkID, executor.ExecutorID)

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv([]string{
			"BURROW_FRAMEWORK_ID=" + frameworkID,
			"BURROW_EXECUTOR_ID=" + executor.ExecutorID,
			"BURROW_DIRECTORY=" + executorMountPoint,
			"BURROW_AGENT_PID=" + string(l.agentPID),
		}),
		oci.WithMounts([]specs.Mount{
			{
				Source:      directory,
				Destination: executorMountPoint,
				Type:        "bind",
				Options:     []string{"rbind", "rw"},
			},
		}),
	}
	if executor.Command != "" {
		opts = append(opts, oci.WithProcessArgs("/bin/sh", "-c", executor.Command))
	}
	if lr := linuxResources(resources); lr != nil {
		opts = append(opts, withResourceLimits(lr))
	}

	container, err := l.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		container.Delete(ctx, containerd.WithSnapshotCleanup)
		return fmt.Errorf("failed to create task: %w", err)
	}

	exitCh, err := task.Wait(ctx)
	if err != nil {
		task.Delete(ctx)
		container.Delete(ctx, containerd.WithSnapshotCleanup)
		return fmt.Errorf("failed to wait on task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		container.Delete(ctx, containerd.WithSnapshotCleanup)
		return fmt.Errorf("failed to start task: %w", err)
	}

	handle := &executorHandle{
		frameworkID: frameworkID,
		executorID:  executor.ExecutorID,
		container:   container,
		task:        task,
	}
	l.mu.Lock()
	l.execs[execKey(frameworkID, executor.ExecutorID)] = handle
	l.mu.Unlock()

	l.sink.ExecutorStarted(frameworkID, executor.ExecutorID, int(task.Pid()))

	go l.reap(frameworkID, executor.ExecutorID, exitCh)
	return nil
}

func (l *ContainerdLauncher) reap(frameworkID, executorID string, exitCh <-chan containerd.ExitStatus) {
	status := <-exitCh

	l.mu.Lock()
	handle := l.execs[execKey(frameworkID, executorID)]
	delete(l.execs, execKey(frameworkID, executorID))
	l.mu.Unlock()

	if handle != nil {
		ctx := namespaces.WithNamespace(context.Background(), l.namespace)
		if _, err := handle.task.Delete(ctx); err != nil {
			l.logger.Warn().Err(err).Str("executor_id", executorID).Msg("failed to delete task")
		}
		if err := handle.container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
			l.logger.Warn().Err(err).Str("executor_id", executorID).Msg("failed to delete container")
		}
	}

	l.sink.ExecutorExited(frameworkID, executorID, int(status.ExitCode()))
}

// KillExecutor sends SIGKILL; the reap goroutine reports the exit.
func (l *ContainerdLauncher) KillExecutor(frameworkID, executorID string) {
	go func() {
		l.mu.Lock()
		handle := l.execs[execKey(frameworkID, executorID)]
		l.mu.Unlock()
		if handle == nil {
			return
		}

		ctx := namespaces.WithNamespace(context.Background(), l.namespace)
		if err := handle.task.Kill(ctx, syscall.SIGKILL); err != nil {
			l.logger.Warn().Err(err).
				Str("framework_id", frameworkID).
				Str("executor_id", executorID).
				Msg("failed to kill executor")
		}
	}()
}

// ResourcesChanged applies the new aggregate limits as cgroup updates.
func (l *ContainerdLauncher) ResourcesChanged(frameworkID, executorID string, resources types.Resources) {
	go func() {
		l.mu.Lock()
		handle := l.execs[execKey(frameworkID, executorID)]
		l.mu.Unlock()
		if handle == nil {
			return
		}

		lr := linuxResources(resources)
		if lr == nil {
			return
		}

		ctx := namespaces.WithNamespace(context.Background(), l.namespace)
		if err := handle.task.Update(ctx, containerd.WithResources(lr)); err != nil {
			l.logger.Warn().Err(err).
				Str("framework_id", frameworkID).
				Str("executor_id", executorID).
				Msg("failed to update resource limits")
		}
	}()
}

// SetFrameworkPriorities maps each framework's priority onto the CPU
// shares of its executors.
func (l *ContainerdLauncher) SetFrameworkPriorities(priorities map[string]float64) {
	go func() {
		l.mu.Lock()
		handles := make([]*executorHandle, 0, len(l.execs))
		for _, h := range l.execs {
			handles = append(handles, h)
		}
		l.mu.Unlock()

		ctx := namespaces.WithNamespace(context.Background(), l.namespace)
		for _, h := range handles {
			priority, ok := priorities[h.frameworkID]
			if !ok {
				continue
			}
			shares := uint64(1024 * priority)
			lr := &specs.LinuxResources{CPU: &specs.LinuxCPU{Shares: &shares}}
			if err := h.task.Update(ctx, containerd.WithResources(lr)); err != nil {
				l.logger.Warn().Err(err).Str("framework_id", h.frameworkID).Msg("failed to apply framework priority")
			}
		}
	}()
}

// SampleUsage takes a statistics sample and pushes it through the sink.
func (l *ContainerdLauncher) SampleUsage(frameworkID, executorID string) {
	go func() {
		stats, err := l.collect(frameworkID, executorID)
		if err != nil {
			l.logger.Debug().Err(err).
				Str("framework_id", frameworkID).
				Str("executor_id", executorID).
				Msg("usage sample unavailable")
			return
		}
		l.sink.UsageUpdate(frameworkID, executorID, stats)
	}()
}

// CollectResourceStatistics yields at most one sample on the returned
// channel; the channel is closed either way.
func (l *ContainerdLauncher) CollectResourceStatistics(frameworkID, executorID string) <-chan types.ResourceStatistics {
	ch := make(chan types.ResourceStatistics, 1)
	go func() {
		defer close(ch)
		stats, err := l.collect(frameworkID, executorID)
		if err != nil {
			return
		}
		ch <- stats
	}()
	return ch
}

func (l *ContainerdLauncher) collect(frameworkID, executorID string) (types.ResourceStatistics, error) {
	l.mu.Lock()
	handle := l.execs[execKey(frameworkID, executorID)]
	l.mu.Unlock()
	if handle == nil {
		return types.ResourceStatistics{}, fmt.Errorf("executor %s of framework %s is not running", executorID, frameworkID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx = namespaces.WithNamespace(ctx, l.namespace)

	metric, err := handle.task.Metrics(ctx)
	if err != nil {
		return types.ResourceStatistics{}, fmt.Errorf("failed to read metrics: %w", err)
	}

	data, err := typeurl.UnmarshalAny(metric.Data)
	if err != nil {
		return types.ResourceStatistics{}, fmt.Errorf("failed to decode metrics: %w", err)
	}

	stats := types.ResourceStatistics{Timestamp: time.Now()}
	switch m := data.(type) {
	case *v1.Metrics:
		if m.CPU != nil && m.CPU.Usage != nil {
			stats.CPUUserTime = float64(m.CPU.Usage.User) / 1e9
			stats.CPUSystemTime = float64(m.CPU.Usage.Kernel) / 1e9
		}
		if m.Memory != nil && m.Memory.Usage != nil {
			stats.MemoryRSS = m.Memory.Usage.Usage
			stats.MemoryLimit = m.Memory.Usage.Limit
		}
	case *v2.Metrics:
		if m.CPU != nil {
			stats.CPUUserTime = float64(m.CPU.UserUsec) / 1e6
			stats.CPUSystemTime = float64(m.CPU.SystemUsec) / 1e6
		}
		if m.Memory != nil {
			stats.MemoryRSS = m.Memory.Usage
			stats.MemoryLimit = m.Memory.UsageLimit
		}
	default:
		return types.ResourceStatistics{}, fmt.Errorf("unsupported metrics type %T", data)
	}

	return stats, nil
}

func linuxResources(resources types.Resources) *specs.LinuxResources {
	lr := &specs.LinuxResources{}
	applied := false

	if cpus := resources.Get("cpus"); cpus > 0 {
		period := cpuPeriod
		quota := int64(cpus * float64(cpuPeriod))
		lr.CPU = &specs.LinuxCPU{Period: &period, Quota: &quota}
		applied = true
	}
	if mem := resources.Get("mem"); mem > 0 {
		limit := int64(mem * 1024 * 1024)
		lr.Memory = &specs.LinuxMemory{Limit: &limit}
		applied = true
	}

	if !applied {
		return nil
	}
	return lr
}

func withResourceLimits(lr *specs.LinuxResources) oci.SpecOpts {
	return func(_ context.Context, _ oci.Client, _ *containers.Container, s *oci.Spec) error {
		if s.Linux == nil {
			s.Linux = &specs.Linux{}
		}
		s.Linux.Resources = lr
		return nil
	}
}

func execKey(frameworkID, executorID string) string {
	return frameworkID + "/" + executorID
}

// containerID flattens framework and executor ids into a containerd-safe
// identifier.
func containerID(frameworkID, executorID string) string {
	id := frameworkID + "-" + executorID
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, id)
}
