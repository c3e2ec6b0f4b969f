// Package stage defines the contract between the workflow manager and the
// external executors that do the actual download, processing, transcription,
// and publishing work.
package stage

import (
	"context"

	"conveyor/internal/queue"
)

// Artifact is the result reference an executor hands back on success.
type Artifact struct {
	// Path points at the produced file or directory under the staging dir.
	Path string
	// Bytes is the artifact size counted against the storage quota. Zero
	// means nothing new was produced.
	Bytes int64
}

// Executor performs the external work of one stage. The effective map is the
// resolved configuration for the item (and, for publish work, the target
// platform). Executors report failure through the returned error; the manager
// owns all status bookkeeping.
type Executor interface {
	Run(ctx context.Context, item *queue.Item, effective map[string]any) (Artifact, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, item *queue.Item, effective map[string]any) (Artifact, error)

func (f ExecutorFunc) Run(ctx context.Context, item *queue.Item, effective map[string]any) (Artifact, error) {
	return f(ctx, item, effective)
}

// Publisher uploads one item to one target platform. Implementations must be
// safe for concurrent use: the manager fans publications out across workers.
type Publisher interface {
	Publish(ctx context.Context, item *queue.Item, target string, effective map[string]any) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, item *queue.Item, target string, effective map[string]any) error

func (f PublisherFunc) Publish(ctx context.Context, item *queue.Item, target string, effective map[string]any) error {
	return f(ctx, item, target, effective)
}
