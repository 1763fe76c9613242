package events

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CodecFlow/codecflow/pkg/infrastructure/logging"
	"github.com/CodecFlow/codecflow/pkg/jobstore"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WSStreamer serves the same event stream as SSE over a websocket, for
// clients behind proxies that buffer text/event-stream.
type WSStreamer struct {
	hub      *Hub
	db       *jobstore.Database
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

func NewWSStreamer(hub *Hub, db *jobstore.Database, logger *logging.Logger) *WSStreamer {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &WSStreamer{
		hub: hub,
		db:  db,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth happens before the upgrade, on the API key.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.WithComponent("websocket"),
	}
}

// Serve upgrades the connection and streams events until the job is
// terminal or the client goes away.
func (s *WSStreamer) Serve(w http.ResponseWriter, r *http.Request, job *jobstore.Job) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()

	// Drain client frames so pong handling and close frames work.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snapshot := FromJob(job)
	if err := writeWS(conn, snapshot); err != nil {
		return
	}
	if snapshot.Terminal() {
		writeWSClose(conn)
		return
	}

	eventCh, unsubscribe := s.hub.Subscribe(job.ID)
	defer unsubscribe()

	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	last := snapshot
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case event, open := <-eventCh:
			if !open {
				return
			}
			if err := writeWS(conn, event); err != nil {
				return
			}
			if event.Terminal() {
				writeWSClose(conn)
				return
			}
			last = event

		case <-poll.C:
			if s.db == nil {
				continue
			}
			current, err := s.db.GetJob(ctx, job.ID, "")
			if err != nil {
				s.logger.Warn("poll failed during websocket stream", map[string]interface{}{
					"job_id": job.ID.String(),
					"error":  err.Error(),
				})
				return
			}
			event := FromJob(current)
			if event.Terminal() {
				writeWS(conn, event)
				writeWSClose(conn)
				return
			}
			if event.Progress != last.Progress || event.Stage != last.Stage {
				if err := writeWS(conn, event); err != nil {
					return
				}
				last = event
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeWS(conn *websocket.Conn, event Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(event)
}

func writeWSClose(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
