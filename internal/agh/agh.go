// Package agh contains common entities and interfaces shared by the
// server's background tasks.
package agh

import "context"

// Service is the interface for a background task: the v4 listener, the v6
// listener, the management listener, and the event-sink writer all implement
// it.
type Service interface {
	// Start starts the service.  It does not block.
	Start() (err error)

	// Shutdown gracefully stops the service.  ctx is used to determine
	// a timeout before trying to stop the service less gracefully.
	Shutdown(ctx context.Context) (err error)
}

// type check
var _ Service = EmptyService{}

// EmptyService is a Service that does nothing.
type EmptyService struct{}

// Start implements the [Service] interface for EmptyService.
func (EmptyService) Start() (err error) { return nil }

// Shutdown implements the [Service] interface for EmptyService.
func (EmptyService) Shutdown(_ context.Context) (err error) { return nil }
