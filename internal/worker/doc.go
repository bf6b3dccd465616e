// Package worker runs a loop body on its own goroutine under explicit start
// and stop control, sleeping an interruptible interval between cycles.
package worker
