package api

import (
	"net/http"
	"time"

	"github.com/antcode-sh/antcode/pkg/events"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Token auth already ran; the API is same-origin agnostic
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsEvents streams every cluster event to the client
func (s *Server) wsEvents(c *gin.Context) {
	sub := s.manager.Events().Subscribe()
	s.serveSubscription(c, sub)
}

// wsExecutionLogs streams one execution's events, log fragments included
func (s *Server) wsExecutionLogs(c *gin.Context) {
	execution, ok := s.loadExecution(c)
	if !ok {
		return
	}
	sub := s.manager.Events().SubscribeExecution(execution.ID)
	s.serveSubscription(c, sub)
}

// serveSubscription pumps a subscription over a websocket until either
// side goes away
func (s *Server) serveSubscription(c *gin.Context, sub events.Subscriber) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.manager.Events().Unsubscribe(sub)
		return
	}
	defer conn.Close()
	defer s.manager.Events().Unsubscribe(sub)

	// Reader goroutine only surfaces the close
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
