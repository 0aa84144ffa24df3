package bus

import (
	"context"

	"github.com/BearBump/trackengine/internal/realtime"
)

// Bus shares hub publishes between API instances.
type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
	Close() error
}
