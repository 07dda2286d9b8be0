/*
Package agent implements the Burrow node agent: a single-threaded actor
that supervises per-framework executor processes on one host and keeps the
master's view of their tasks converged.

# Architecture

All mutable state — the framework/executor/task catalog, registration
state, the pending status-update table — belongs to one event loop.
External collaborators never touch it directly: transport messages,
isolation backend callbacks and timers all enqueue closures that the loop
drains in arrival order, so no handler ever races another and the catalog
needs no locks.

	             ┌────────────────── AGENT ─────────────────────┐
	 master ──►  │                                               │
	 executors ─►│  inbound dispatch ─┐                          │
	 backend ──► │  callbacks ────────┼──► event loop ──► state  │
	 timers ───► │  delayed closures ─┘       │                  │
	             │                            ▼                  │
	             │   registration · tasks · executors · updates  │
	             └───────────────────────────────────────────────┘

Four concerns share the loop:

Registration: on master detection the agent links to the master and
re-sends Register/Reregister every second until acknowledged. A
reregistration carries every live executor and launched task so a failed-
over master can rebuild its view. A reregistration ack naming a different
slave id is fatal.

Executor lifecycle: executors are created lazily on the first task for
their id, queue tasks until the process registers back, flush the queue on
registration, and are torn down either gracefully (shutdown request, then
a kill-timeout guarded by the executor's epoch uuid) or by the backend's
exit callback, which drives every non-terminal task to LOST or FAILED.

Status updates: every update — executor-reported or agent-synthesized —
is forwarded to the master, recorded under its uuid and resent on a timer
until the master acknowledges it. Delivery is at-least-once and unordered
under retry; the uuid is the idempotency key.

Usage: a one-second tick asks the backend to sample every live executor,
and a per-executor statistics loop streams Usage messages to the master
while the executor lives.

Timers are never cancelled. Each fired timer re-reads the catalog and
becomes a no-op when the state it guarded is gone: the shutdown timeout
checks the executor epoch uuid, the update retry checks the pending table,
the registration retry checks connected.
*/
package agent
