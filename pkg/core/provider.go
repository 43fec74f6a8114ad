package core

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrSourceUnavailable reports a source that does not exist yet or is not ready.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrRemoteStreamEnded reports an upstream stream that closed on its own.
	ErrRemoteStreamEnded = errors.New("remote stream ended")
	// ErrNotFound reports an unknown view, rule or workload.
	ErrNotFound = errors.New("not found")
)

// LogProvider is the interface all remote log backends implement.
// Authentication and connection setup are entirely the provider's concern.
type LogProvider interface {
	// Kind returns the provider's identifier.
	Kind() ProviderKind

	// ListWorkloads returns the workloads in a namespace.
	ListWorkloads(ctx context.Context, namespace string) ([]Workload, error)

	// StreamLogs opens one log stream. Closing the returned reader releases it.
	StreamLogs(ctx context.Context, req StreamRequest) (io.ReadCloser, error)
}
