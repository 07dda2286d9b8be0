package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/isolation"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/messenger"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/workdir"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the Burrow node agent",
	Long: `Run the node agent on this host.

The agent registers with the master named by --master (or waits for a
NewMasterDetected message from a detector), launches executors through
containerd and reports task status reliably until acknowledged.`,
	RunE: runAgent,
}

func init() {
	flags := agentCmd.Flags()
	flags.String("master", "", "master pid, e.g. master@10.0.0.1:5050 (empty: wait for detector)")
	flags.String("listen-addr", "0.0.0.0:5051", "address for the agent's message endpoint")
	flags.String("advertise-host", "", "host other processes reach this agent at (default: hostname)")
	flags.String("api-addr", "0.0.0.0:5052", "address for the observability endpoints")
	flags.String("work-dir", "/var/lib/burrow", "root of the agent's on-disk work tree")
	flags.String("resources", "", "offered resources, e.g. cpus:4;mem:4096 (empty: auto-detect)")
	flags.String("attributes", "", "host attributes, e.g. rack:r1;zone:a")
	flags.Int("webui-port", 5052, "port advertised for this agent's UI")
	flags.Int("gc-timeout-hours", 168, "hours before retired executor directories are deleted")
	flags.Int("executor-shutdown-timeout-seconds", 5, "grace period before a shutting-down executor is killed")
	flags.Bool("no-create-work-dir", false, "compute work directory paths without creating them")
	flags.String("containerd-socket", "", "containerd socket path (empty: default)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.Bool("log-json", false, "emit JSON logs")

	viper.SetEnvPrefix("BURROW")
	viper.AutomaticEnv()
	viper.BindPFlags(flags)
	// BURROW_PUBLIC_DNS overrides the hostname shown in the master's UI.
	viper.BindEnv("public-dns", "BURROW_PUBLIC_DNS")
}

func runAgent(cmd *cobra.Command, args []string) error {
	log.Init(log.Config{
		Level:      log.Level(viper.GetString("log-level")),
		JSONOutput: viper.GetBool("log-json"),
	})

	cfg := agent.Config{
		PublicHostname:          viper.GetString("public-dns"),
		WebUIPort:               viper.GetInt("webui-port"),
		ExecutorShutdownTimeout: time.Duration(viper.GetInt("executor-shutdown-timeout-seconds")) * time.Second,
	}

	if s := viper.GetString("resources"); s != "" {
		resources, err := types.ParseResources(s)
		if err != nil {
			return fmt.Errorf("invalid --resources: %w", err)
		}
		cfg.Resources = resources
	}
	if s := viper.GetString("attributes"); s != "" {
		attributes, err := types.ParseAttributes(s)
		if err != nil {
			return fmt.Errorf("invalid --attributes: %w", err)
		}
		cfg.Attributes = attributes
	}

	advertiseHost := viper.GetString("advertise-host")
	if advertiseHost == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		advertiseHost = hostname
	}

	msgr, err := messenger.NewHTTP("slave", viper.GetString("listen-addr"), advertiseHost)
	if err != nil {
		return fmt.Errorf("failed to create messenger: %w", err)
	}

	launcher, err := isolation.NewContainerdLauncher(viper.GetString("containerd-socket"))
	if err != nil {
		return fmt.Errorf("failed to create isolation backend: %w", err)
	}

	workdirs := workdir.NewManager(workdir.Config{
		Root:      viper.GetString("work-dir"),
		GCTimeout: time.Duration(viper.GetInt("gc-timeout-hours")) * time.Hour,
		NoCreate:  viper.GetBool("no-create-work-dir"),
	})

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	a, err := agent.New(cfg, msgr, launcher, workdirs, broker)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	if err := a.Start(); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}
	defer msgr.Stop()

	// Tail lifecycle events into the log.
	sub := broker.Subscribe()
	go func() {
		for event := range sub {
			log.Logger.Debug().
				Str("event", string(event.Type)).
				Str("framework_id", event.FrameworkID).
				Str("executor_id", event.ExecutorID).
				Str("task_id", event.TaskID).
				Msg("lifecycle event")
		}
	}()

	if master := viper.GetString("master"); master != "" {
		a.NewMasterDetected(types.PID(master))
	}

	apiServer := api.NewServer(a, Version)
	var group errgroup.Group
	group.Go(func() error {
		return apiServer.Start(viper.GetString("api-addr"))
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-a.Done():
		log.Logger.Info().Msg("agent terminated")
	}

	a.Stop()
	apiServer.Stop()
	return group.Wait()
}
