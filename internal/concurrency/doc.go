// Package concurrency provides the lock-free MPMC ring (Socket's async
// send outbox, §4.7) used by the shared-memory transport.
package concurrency
