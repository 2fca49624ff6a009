// Package server is the Hub's Connection Acceptor: an echo-based HTTP
// server that upgrades the three accepted URL shapes to WebSocket sessions
// and spawns their reader/writer goroutine pair (spec §4.2), generalizing
// the teacher's ws.Server/http.Server pair (ingress/internal/ws/server.go,
// ingress/internal/http/server.go) from its single hello-handshake session
// model to identity-in-path acceptance for the agent, environment and human
// participant kinds.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/GCYYfun/star-protocol/internal/auth"
	"github.com/GCYYfun/star-protocol/internal/config"
	"github.com/GCYYfun/star-protocol/internal/hub"
	"github.com/GCYYfun/star-protocol/internal/metrics"
	"github.com/GCYYfun/star-protocol/internal/validate"
	"github.com/GCYYfun/star-protocol/protocol"
)

// Server is the Hub's Connection Acceptor.
type Server struct {
	cfg           config.Config
	hub           *hub.Hub
	authenticator auth.Authenticator
	sink          metrics.Sink
	echo          *echo.Echo
	upgrader      websocket.Upgrader
}

// New builds a Connection Acceptor over h, using authenticator to gate
// upgrade requests when cfg.EnableAuth is set.
func New(cfg config.Config, h *hub.Hub, authenticator auth.Authenticator, sink metrics.Sink) *Server {
	if authenticator == nil {
		authenticator = auth.AllowAllAuthenticator{}
	}
	if sink == nil {
		sink = metrics.NoopSink{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		cfg:           cfg,
		hub:           h,
		authenticator: authenticator,
		sink:          sink,
		echo:          e,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	e.GET("/health", s.handleHealth)
	e.GET("/env/:env_id/agent/:agent_id", s.handleAgentAccept)
	e.GET("/env/:env_id", s.handleEnvironmentAccept)
	e.GET("/human/:human_id", s.handleHumanAccept)

	return s
}

// Start serves HTTP on addr, blocking until the server stops.
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	stats := s.hub.Registry.Snapshot()
	counters, gauges := map[string]float64{}, map[string]float64{}
	if logSink, ok := s.sink.(*metrics.LogSink); ok {
		counters, gauges = logSink.Snapshot()
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"sessions": stats,
		"counters": counters,
		"gauges":   gauges,
	})
}

func (s *Server) handleAgentAccept(c echo.Context) error {
	envID := c.Param("env_id")
	agentID := c.Param("agent_id")
	if !protocol.ValidID(envID, false) || !protocol.ValidID(agentID, false) {
		return c.String(http.StatusBadRequest, "invalid env_id or agent_id")
	}
	return s.accept(c, protocol.NewIdentity(protocol.KindAgent, agentID), envID)
}

func (s *Server) handleEnvironmentAccept(c echo.Context) error {
	envID := c.Param("env_id")
	if !protocol.ValidID(envID, false) {
		return c.String(http.StatusBadRequest, "invalid env_id")
	}
	return s.accept(c, protocol.NewIdentity(protocol.KindEnvironment, envID), envID)
}

func (s *Server) handleHumanAccept(c echo.Context) error {
	humanID := c.Param("human_id")
	if !protocol.ValidID(humanID, false) {
		return c.String(http.StatusBadRequest, "invalid human_id")
	}
	return s.accept(c, protocol.NewIdentity(protocol.KindHuman, humanID), "")
}

// accept runs the shared admission sequence: capacity check, authentication,
// upgrade, registration (with I1 eviction), and reader/writer spawn.
func (s *Server) accept(c echo.Context, identity protocol.Identity, envID string) error {
	if s.cfg.MaxConnections > 0 && s.hub.Registry.Snapshot().Total >= s.cfg.MaxConnections {
		return c.String(http.StatusServiceUnavailable, "hub is at capacity")
	}

	if s.cfg.EnableAuth {
		decision := s.authenticator.Authenticate(c.Request().Context(), c.Request(), identity)
		if !decision.Allow {
			return c.String(http.StatusUnauthorized, decision.Reason)
		}
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.sink.Log(metrics.LevelWarn, "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return err
	}

	session := hub.NewSession(identity, envID, conn, s.cfg.SendQueueDepth)
	session.SetDropHook(func() {
		s.sink.CounterInc("server.queue_drop", metrics.Tags{"identity": identity.String()})
	})

	if evicted := s.hub.Registry.Register(session); evicted != nil {
		s.evict(evicted)
	}
	session.MarkOpen()
	s.sink.CounterInc("server.session_accepted", metrics.Tags{"kind": string(identity.Kind)})

	s.sendWelcomeHeartbeat(session)

	go s.writeLoop(session)
	go s.readLoop(session)

	return nil
}

func (s *Server) evict(session *hub.Session) {
	envelope, err := protocol.NewEnvelope(protocol.EnvelopeError, protocol.Hub, session.Identity,
		protocol.NewError(protocol.ErrReplaced, "identity reconnected from a new session", nil).ToPayload())
	if err == nil {
		if data, encErr := protocol.Encode(envelope); encErr == nil {
			session.Enqueue(data, false)
		}
	}
	_ = session.Close()
}

func (s *Server) sendWelcomeHeartbeat(session *hub.Session) {
	envelope, err := protocol.NewEnvelope(protocol.EnvelopeHeartbeat, protocol.Hub, session.Identity, protocol.HeartbeatPayload{
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		ServerStatus: "running",
		Ping:         "pong",
	})
	if err != nil {
		return
	}
	if data, encErr := protocol.Encode(envelope); encErr == nil {
		session.Enqueue(data, true)
	}
}

func (s *Server) readLoop(session *hub.Session) {
	defer func() {
		s.hub.Registry.Deregister(session)
		_ = session.Close()
	}()

	transport := session.Transport()
	_ = transport.SetReadDeadline(time.Now().Add(s.cfg.SessionTimeout))

	for {
		_, data, err := transport.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.sink.Log(metrics.LevelInfo, "websocket closed unexpectedly", map[string]interface{}{"identity": session.Identity.String(), "error": err.Error()})
			}
			return
		}
		_ = transport.SetReadDeadline(time.Now().Add(s.cfg.SessionTimeout))

		envelope, err := protocol.Decode(data)
		if err != nil {
			s.sendProtocolError(session, err)
			continue
		}
		if s.cfg.EnableValidation {
			if starErr := validate.Envelope(envelope); starErr != nil {
				s.sendStarError(session, envelope.ID, starErr)
				continue
			}
		}
		s.hub.Router.Route(context.Background(), envelope, session)
	}
}

func (s *Server) writeLoop(session *hub.Session) {
	transport := session.Transport()
	defer func() {
		_ = session.Close()
	}()

	for {
		data, ok := session.Dequeue(session.Done())
		if !ok {
			return
		}
		_ = transport.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := transport.WriteMessage(websocket.TextMessage, data); err != nil {
			s.sink.Log(metrics.LevelWarn, "websocket write failed", map[string]interface{}{"identity": session.Identity.String(), "error": err.Error()})
			return
		}
	}
}

func (s *Server) sendProtocolError(session *hub.Session, cause error) {
	starErr, ok := cause.(*protocol.StarError)
	if !ok {
		starErr = protocol.NewError(protocol.ErrValidation, "malformed frame", map[string]interface{}{"cause": cause.Error()})
	}
	s.sendStarError(session, "", starErr)
}

func (s *Server) sendStarError(session *hub.Session, inReplyTo string, starErr *protocol.StarError) {
	payload := starErr.ToPayload()
	if payload.Details == nil {
		payload.Details = map[string]interface{}{}
	}
	if inReplyTo != "" {
		payload.Details["in_reply_to"] = inReplyTo
	}
	envelope, err := protocol.NewEnvelope(protocol.EnvelopeError, protocol.Hub, session.Identity, payload)
	if err != nil {
		return
	}
	if data, encErr := protocol.Encode(envelope); encErr == nil {
		session.Enqueue(data, false)
	}
}
