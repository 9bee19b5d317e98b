// Package ws is the real-time fan-out gateway. Each WebSocket client
// owns a bounded subscription on the event bus, so one stalled
// connection can never block publishers or other clients; a client that
// falls behind receives a dropped-count message in place of the events
// it lost.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/your-org/nvr/internal/eventbus"
	"github.com/your-org/nvr/internal/observability"
	"github.com/your-org/nvr/pkg/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

const writeTimeout = 10 * time.Second

// Gateway upgrades connections and bridges them to the event bus.
type Gateway struct {
	bus       *eventbus.Bus
	queueSize int
	nextID    atomic.Uint64
}

func NewGateway(bus *eventbus.Bus, queueSize int) *Gateway {
	return &Gateway{bus: bus, queueSize: queueSize}
}

// HandleWS handles WebSocket upgrade requests. Optional query params:
// camera_id restricts delivery to one camera, types is a comma-separated
// event type filter.
func (g *Gateway) HandleWS(c *gin.Context) {
	var cameraFilter uuid.UUID
	if v := c.Query("camera_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid camera_id"})
			return
		}
		cameraFilter = id
	}
	typeFilter := parseTypes(c.Query("types"))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	subID := fmt.Sprintf("ws-%d", g.nextID.Add(1))
	sub, err := g.bus.Subscribe(subID, g.queueSize)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "bus unavailable"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	observability.WSConnections.Inc()
	slog.Debug("ws client connected", "id", subID, "camera_filter", cameraFilter)

	ctx, cancel := context.WithCancel(context.Background())
	go readPump(conn, cancel)
	go g.writePump(ctx, cancel, conn, sub, subID, cameraFilter, typeFilter)
}

// writePump delivers the client's subscription until it disconnects.
func (g *Gateway) writePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *eventbus.Subscription, subID string, cameraFilter uuid.UUID, typeFilter map[eventbus.EventType]struct{}) {
	defer func() {
		cancel()
		g.bus.Unsubscribe(subID)
		conn.Close()
		observability.WSConnections.Dec()
		slog.Debug("ws client disconnected", "id", subID)
	}()

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if !wants(ev, cameraFilter, typeFilter) {
			continue
		}

		msg, err := toWSEvent(ev)
		if err != nil {
			slog.Error("marshal ws event", "seq", ev.Seq, "error", err)
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// readPump exists to detect disconnection; client messages are ignored.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wants applies the client's filters. Dropped markers always pass so the
// client knows its view has a gap.
func wants(ev eventbus.Event, cameraFilter uuid.UUID, typeFilter map[eventbus.EventType]struct{}) bool {
	if ev.Type == eventbus.EventDropped {
		return true
	}
	if cameraFilter != uuid.Nil && ev.CameraID != cameraFilter {
		return false
	}
	if len(typeFilter) > 0 {
		if _, ok := typeFilter[ev.Type]; !ok {
			return false
		}
	}
	return true
}

func toWSEvent(ev eventbus.Event) (dto.WSEvent, error) {
	msg := dto.WSEvent{
		Seq:       ev.Seq,
		Type:      string(ev.Type),
		CameraID:  ev.CameraID,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
		Dropped:   ev.Dropped,
	}

	var payload any
	switch ev.Type {
	case eventbus.EventDetection:
		payload = ev.Detection
	case eventbus.EventActivity:
		payload = ev.Activity
	case eventbus.EventSession:
		payload = ev.Session
	case eventbus.EventHealth:
		payload = ev.Health
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return dto.WSEvent{}, err
		}
		msg.Data = data
	}
	return msg, nil
}

func parseTypes(s string) map[eventbus.EventType]struct{} {
	if s == "" {
		return nil
	}
	out := make(map[eventbus.EventType]struct{})
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out[eventbus.EventType(t)] = struct{}{}
		}
	}
	return out
}
