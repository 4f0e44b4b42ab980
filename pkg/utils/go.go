package utils

import (
	"context"
	"log"
	"runtime/debug"
)

// Go launches fn on a new goroutine with panic recovery. A panicking
// background task must never take the whole process down; the stack is
// logged instead.
func Go(ctx context.Context, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("recovered panic in background task: %v\n%s", r, debug.Stack())
			}
		}()
		select {
		case <-ctx.Done():
			return
		default:
		}
		fn()
	}()
}
