package agent

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/isolation"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/messenger"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/workdir"
)

const (
	// DefaultRegistrationRetryInterval is how often an unregistered agent
	// re-sends its registration.
	DefaultRegistrationRetryInterval = 1 * time.Second

	// DefaultStatusUpdateRetryInterval is how long an unacknowledged
	// status update waits before being resent.
	DefaultStatusUpdateRetryInterval = 10 * time.Second

	// DefaultExecutorShutdownTimeout is the grace period between asking an
	// executor to shut down and killing it.
	DefaultExecutorShutdownTimeout = 5 * time.Second

	// DefaultUsageSampleInterval paces usage sampling.
	DefaultUsageSampleInterval = 1 * time.Second
)

// Config holds the agent's tunables. Zero durations take the defaults
// above.
type Config struct {
	// Hostname overrides the probed host name; PublicHostname is what the
	// master's UI shows and falls back to Hostname.
	Hostname       string
	PublicHostname string
	WebUIPort      int

	Resources  types.Resources
	Attributes types.Attributes

	RegistrationRetryInterval time.Duration
	StatusUpdateRetryInterval time.Duration
	ExecutorShutdownTimeout   time.Duration
	UsageSampleInterval       time.Duration
}

func (c Config) withDefaults() Config {
	if c.RegistrationRetryInterval <= 0 {
		c.RegistrationRetryInterval = DefaultRegistrationRetryInterval
	}
	if c.StatusUpdateRetryInterval <= 0 {
		c.StatusUpdateRetryInterval = DefaultStatusUpdateRetryInterval
	}
	if c.ExecutorShutdownTimeout <= 0 {
		c.ExecutorShutdownTimeout = DefaultExecutorShutdownTimeout
	}
	if c.UsageSampleInterval <= 0 {
		c.UsageSampleInterval = DefaultUsageSampleInterval
	}
	return c
}

// Stats is the agent's counter block, exposed on /stats.json and mirrored
// into Prometheus.
type Stats struct {
	Tasks                    map[types.TaskState]uint64
	ValidStatusUpdates       uint64
	InvalidStatusUpdates     uint64
	ValidFrameworkMessages   uint64
	InvalidFrameworkMessages uint64
}

func newStats() Stats {
	s := Stats{Tasks: make(map[types.TaskState]uint64, len(types.TaskStates))}
	for _, state := range types.TaskStates {
		s.Tasks[state] = 0
	}
	return s
}

// Agent is the per-node actor. All mutable state — the framework catalog,
// registration state, the pending-update table — is owned by a single
// event loop; the exported operations enqueue work and return immediately.
type Agent struct {
	cfg       Config
	info      types.AgentInfo
	msgr      messenger.Messenger
	launcher  isolation.Launcher
	workdirs  *workdir.Manager
	broker    *events.Broker
	logger    zerolog.Logger
	startTime time.Time

	// Loop-owned state. Only handlers running on the event loop touch
	// these fields.
	slaveID    string
	master     types.PID
	connected  bool
	frameworks map[string]*Framework
	stats      Stats

	actions  chan func()
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// New probes the host and assembles an agent. Hostname probe failure is an
// error; callers treat it as fatal.
func New(cfg Config, msgr messenger.Messenger, launcher isolation.Launcher, workdirs *workdir.Manager, broker *events.Broker) (*Agent, error) {
	cfg = cfg.withDefaults()

	hostname := cfg.Hostname
	if hostname == "" {
		probed, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to get hostname: %w", err)
		}
		hostname = probed
	}

	publicHostname := cfg.PublicHostname
	if publicHostname == "" {
		publicHostname = hostname
	}

	resources := cfg.Resources
	if resources == nil {
		resources = DetectResources()
	}

	return &Agent{
		cfg: cfg,
		info: types.AgentInfo{
			Hostname:       hostname,
			PublicHostname: publicHostname,
			WebUIPort:      cfg.WebUIPort,
			Resources:      resources,
			Attributes:     cfg.Attributes,
		},
		msgr:       msgr,
		launcher:   launcher,
		workdirs:   workdirs,
		broker:     broker,
		logger:     log.WithComponent("agent"),
		startTime:  time.Now(),
		frameworks: make(map[string]*Framework),
		stats:      newStats(),
		actions:    make(chan func(), 1024),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}, nil
}

// Info returns the agent's immutable self-description.
func (a *Agent) Info() types.AgentInfo { return a.info }

// Start wires the launcher and transport and begins draining the event
// loop.
func (a *Agent) Start() error {
	if err := a.launcher.Initialize(a, a.msgr.Self()); err != nil {
		return fmt.Errorf("failed to initialize isolation backend: %w", err)
	}
	if err := a.msgr.Start(a); err != nil {
		return fmt.Errorf("failed to start messenger: %w", err)
	}

	a.logger.Info().
		Str("pid", string(a.msgr.Self())).
		Str("resources", a.info.Resources.String()).
		Msg("agent started")

	go a.loop()
	a.after(a.cfg.UsageSampleInterval, a.queueUsageSampling)
	return nil
}

// Stop shuts down every framework, stops the loop and terminates the
// launcher. Safe to call more than once; must not be called from a
// handler (handlers use ShutdownAgent).
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		a.logger.Info().Msg("agent terminating")

		done := make(chan struct{})
		a.dispatch(func() {
			for frameworkID := range a.frameworks {
				a.shutdownFramework(frameworkID)
			}
			close(done)
		})
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}

		close(a.quit)
		<-a.stopped

		if err := a.launcher.Terminate(); err != nil {
			a.logger.Warn().Err(err).Msg("isolation backend terminate failed")
		}
		a.workdirs.Stop()
	})
}

// Done is closed once the event loop has drained for good.
func (a *Agent) Done() <-chan struct{} { return a.stopped }

func (a *Agent) loop() {
	defer close(a.stopped)
	for {
		select {
		case f := <-a.actions:
			f()
		case <-a.quit:
			return
		}
	}
}

// dispatch enqueues work for the event loop; it is the only way state is
// mutated. Dropped silently once the agent is stopping.
func (a *Agent) dispatch(f func()) {
	select {
	case a.actions <- f:
	case <-a.quit:
	}
}

// after schedules a handler on the loop once the delay elapses. Timers are
// never cancelled: the handler re-reads the catalog and no-ops when the
// state it guarded is gone.
func (a *Agent) after(d time.Duration, f func()) {
	time.AfterFunc(d, func() { a.dispatch(f) })
}

// sendToMaster is a best-effort send; a dead master surfaces through the
// link, not through send errors.
func (a *Agent) sendToMaster(msg messenger.Message) {
	if a.master == "" {
		a.logger.Warn().Str("message", msg.Name()).Msg("dropping message: no master detected")
		return
	}
	if err := a.msgr.Send(a.master, msg); err != nil {
		a.logger.Warn().Err(err).Str("message", msg.Name()).Msg("failed to send to master")
	}
}

func (a *Agent) send(to types.PID, msg messenger.Message) {
	if to == "" {
		return
	}
	if err := a.msgr.Send(to, msg); err != nil {
		a.logger.Warn().Err(err).Str("to", string(to)).Str("message", msg.Name()).Msg("send failed")
	}
}

func (a *Agent) publish(event *events.Event) {
	if a.broker != nil {
		a.broker.Publish(event)
	}
}

func (a *Agent) updateGauges() {
	metrics.FrameworksActive.Set(float64(len(a.frameworks)))
	executors := 0
	for _, framework := range a.frameworks {
		executors += len(framework.executors)
	}
	metrics.ExecutorsActive.Set(float64(executors))
}

// removeFrameworkIfIdle enforces the catalog invariant: a framework is
// removed exactly when it has no executors and no pending updates.
func (a *Agent) removeFrameworkIfIdle(framework *Framework) {
	if !framework.idle() {
		return
	}
	delete(a.frameworks, framework.id)
	a.updateGauges()
	a.publish(&events.Event{
		Type:        events.EventFrameworkRemoved,
		FrameworkID: framework.id,
	})
}
