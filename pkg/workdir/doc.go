// Package workdir manages the agent's on-disk work tree: unique run
// directory allocation for executor invocations and delayed garbage
// collection of retired directories. Deletion is best-effort; failures are
// logged and never propagate.
package workdir
