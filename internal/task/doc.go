// Package task defines the asynchronous work items the session engine schedules.
//
// Tasks are validated when they are constructed or decoded, so a malformed task never
// reaches the queue and a queue consumer never runs one. Payloads use a strict schema:
// unknown keys are rejected rather than ignored.
package task
