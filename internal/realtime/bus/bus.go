package bus

import (
	"context"

	"github.com/yungbote/lessongen-backend/internal/realtime"
)

// Bus fans progress messages out across processes. Each process runs one
// forwarder that feeds its local hub.
type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
	Close() error
}
