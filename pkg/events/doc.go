// Package events provides an in-memory broker for agent lifecycle events.
//
// The agent publishes executor and task lifecycle transitions, registration
// changes and GC scheduling as they happen on the event loop; subscribers
// (the CLI's log tail, tests) receive them on buffered channels. Publishing
// never blocks the agent: a subscriber whose buffer is full misses events.
package events
