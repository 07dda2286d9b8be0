package messenger

import (
	"github.com/cuemby/burrow/pkg/types"
)

// Handler receives inbound messages and link-loss notifications. Deliver
// must not block: the agent enqueues the message onto its event loop and
// returns immediately.
type Handler interface {
	Deliver(from types.PID, msg Message)
	Exited(pid types.PID)
}

// Messenger sends typed messages to remote pids and watches links for
// failure. Sends are best-effort: a dead peer surfaces as an error (and,
// when linked, as an Exited notification), never as a retry.
type Messenger interface {
	// Self is the pid remote processes use to reach this endpoint.
	Self() types.PID

	// Send delivers one message to the pid's endpoint.
	Send(to types.PID, msg Message) error

	// Link starts watching the pid's host; transport failure is reported
	// to the handler as Exited(pid).
	Link(pid types.PID)

	// Start begins accepting inbound messages for the handler.
	Start(h Handler) error

	// Stop tears down the endpoint and all links.
	Stop() error
}
