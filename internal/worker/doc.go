// Package worker consumes task envelopes from the queue and performs them against
// the analytics vendor. Tasks are retried in process and dead-lettered once they
// run out of attempts or cannot be decoded.
package worker
