package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/lessongen-backend/internal/platform/logger"
)

type Client struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Channels map[string]bool
	Outbound chan Message
	done     chan struct{}
	once     sync.Once
	Logger   *logger.Logger
}

// Done closes when the hub drops the client, either on CloseClient or
// because it fell behind. A dropped client should resubscribe and replay.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) stop() {
	c.once.Do(func() { close(c.done) })
}
