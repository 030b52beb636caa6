package handlers

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/lessongen-backend/internal/http/response"
	"github.com/yungbote/lessongen-backend/internal/platform/ctxutil"
	"github.com/yungbote/lessongen-backend/internal/platform/envutil"
	"github.com/yungbote/lessongen-backend/internal/platform/logger"
	"github.com/yungbote/lessongen-backend/internal/realtime"
	"github.com/yungbote/lessongen-backend/internal/services"
)

const (
	heartbeatEvery = 15 * time.Second
	wsWriteWait    = 10 * time.Second
)

// StreamHandler serves run progress over SSE and WebSocket. Both replay the
// persisted events after the requested seq, then go live, and end after the
// closing event.
type StreamHandler struct {
	log       *logger.Logger
	runs      services.RunCoordinator
	progress  services.ProgressChannel
	heartbeat time.Duration
	upgrader  websocket.Upgrader
}

func NewStreamHandler(log *logger.Logger, runs services.RunCoordinator, progress services.ProgressChannel) *StreamHandler {
	allowed := map[string]bool{}
	for _, o := range envutil.List("CORS_ALLOWED_ORIGINS", nil) {
		allowed[o] = true
	}
	return &StreamHandler{
		log:       log.With("handler", "StreamHandler"),
		runs:      runs,
		progress:  progress,
		heartbeat: heartbeatEvery,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowed[origin] {
					return true
				}
				u, err := url.Parse(origin)
				return err == nil && u.Host == r.Host
			},
		},
	}
}

// subscribe checks the caller may see the run before attaching to it.
func (h *StreamHandler) subscribe(c *gin.Context) (<-chan realtime.Message, bool) {
	runID, ok := pathID(c, "run")
	if !ok {
		return nil, false
	}
	after, ok := afterSeq(c)
	if !ok {
		return nil, false
	}
	ctx := c.Request.Context()
	if _, err := h.runs.Get(ctx, runID, math.MaxInt64); err != nil {
		response.RespondAPIError(c, err)
		return nil, false
	}
	userID := uuid.Nil
	if rd := ctxutil.GetRequestData(ctx); rd != nil {
		userID = rd.UserID
	}
	ch, err := h.progress.Subscribe(ctx, userID, runID, after)
	if err != nil {
		response.RespondAPIError(c, err)
		return nil, false
	}
	return ch, true
}

// GET /api/runs/:id/events
func (h *StreamHandler) SSE(c *gin.Context) {
	ch, ok := h.subscribe(c)
	if !ok {
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, open := <-ch:
			if !open {
				return false
			}
			c.Render(-1, sse.Event{Id: strconv.FormatInt(msg.Seq, 10), Event: msg.Event, Data: msg})
			return true
		case <-ticker.C:
			c.Render(-1, sse.Event{Event: "heartbeat", Data: gin.H{"at": time.Now().UTC()}})
			return true
		}
	})
}

// GET /api/runs/:id/ws
func (h *StreamHandler) WebSocket(c *gin.Context) {
	ch, ok := h.subscribe(c)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	g, ctx := errgroup.WithContext(c.Request.Context())
	// Reader: only control frames are expected; a read error means the peer
	// went away.
	g.Go(func() error {
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(3 * h.heartbeat))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(3 * h.heartbeat))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return err
			}
		}
	})
	g.Go(func() error {
		defer conn.Close()
		return h.pumpWS(ctx, conn, ch)
	})
	if err := g.Wait(); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !isClosing(err) {
		h.log.Debug("WebSocket stream ended", "error", err)
	}
}

func (h *StreamHandler) pumpWS(ctx context.Context, conn *websocket.Conn, ch <-chan realtime.Message) error {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, open := <-ch:
			if !open {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"), time.Now().Add(wsWriteWait))
				return errStreamDone
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return err
			}
		}
	}
}

// errStreamDone stops the reader once the stream has delivered its closing
// event.
var errStreamDone = errors.New("stream done")

func isClosing(err error) bool { return errors.Is(err, errStreamDone) }
