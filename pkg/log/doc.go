// Package log configures the global zerolog logger for the agent and
// provides child-logger helpers that stamp framework, executor and task
// identifiers onto every line a handler emits.
package log
