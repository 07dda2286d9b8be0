// Package isolation is the enforcement boundary between the agent and the
// executor processes it supervises.
//
// The Launcher interface starts, limits, samples and kills executors; every
// call returns immediately and completes out-of-band, surfacing results
// through the EventSink (executor started/exited, usage samples) or a
// one-shot statistics channel. The agent owns the resource accounting; the
// launcher owns enforcement.
//
// ContainerdLauncher is the production implementation: executors run as
// containers in the "burrow" containerd namespace with their work
// directory bind-mounted at /burrow and their computed resources applied
// as cgroup limits.
package isolation
