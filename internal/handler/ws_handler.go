package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"inbox-triage-go/internal/auth"
	"inbox-triage-go/internal/notifier"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The server is expected to run behind a reverse proxy in a trusted
		// environment.
		return true
	},
}

// ServeWS upgrades the connection and streams the caller's sync and
// categorization events as JSON. Authentication already ran in the middleware;
// browsers pass the token as a query parameter since WebSocket connections
// cannot set headers.
func (h *Handlers) ServeWS(c *gin.Context) {
	userID := auth.UserID(c)

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Errorf("Failed to upgrade websocket for user %s: %v", userID, err)
		return
	}

	sub := h.hub.Subscribe(userID)
	logrus.WithFields(logrus.Fields{
		"user_id":       userID,
		"subscriber_id": sub.ID,
	}).Info("WebSocket subscriber connected")

	go h.writeEvents(conn, sub)
	h.readUntilClosed(conn, sub)
}

// writeEvents pumps hub events to the socket until the subscriber channel
// closes or a write fails.
func (h *Handlers) writeEvents(conn *websocket.Conn, sub *notifier.Subscriber) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				logrus.Debugf("WebSocket write failed for subscriber %s: %v", sub.ID, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readUntilClosed drains inbound frames so control messages are processed and
// unsubscribes when the peer goes away.
func (h *Handlers) readUntilClosed(conn *websocket.Conn, sub *notifier.Subscriber) {
	defer func() {
		h.hub.Unsubscribe(sub)
		conn.Close()
		logrus.WithField("subscriber_id", sub.ID).Info("WebSocket subscriber disconnected")
	}()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
