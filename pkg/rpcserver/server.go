// Package rpcserver exposes the augmented JSON-RPC surface to external
// clients. One listener serves both transports: plain HTTP POST with a
// one-shot request/response per call, and persistent WebSocket sessions
// with subscription notifications pushed by the server.
package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/walletmux/walletmux/pkg/jsonrpc"
	"github.com/walletmux/walletmux/pkg/log"
	"github.com/walletmux/walletmux/pkg/provider"
)

const (
	defaultMaxRequestBytes = 5 << 20 // 5 MiB
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownGrace   = 5 * time.Second
)

// Dispatcher handles one decoded call envelope and returns its
// response. The handler chain implements this.
type Dispatcher interface {
	Handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response
}

// Config contains all configuration options for creating a Server.
// Dispatcher is required; everything else has defaults.
type Config struct {
	// Dispatcher processes decoded envelopes (required).
	Dispatcher Dispatcher
	// Subscriptions enables eth_subscribe on socket sessions.
	// When nil, subscription calls answer with method-not-found.
	Subscriptions provider.SubscriptionBackend
	// Logger for server events.
	Logger log.Logger

	// MaxRequestBytes caps the size of one HTTP request body (default: 5 MiB).
	MaxRequestBytes int64
	// IdleTimeout is the HTTP keep-alive idle timeout (default: 120s).
	IdleTimeout time.Duration
	// WsWriteTimeout is the maximum time to wait queueing a socket
	// write before the connection is considered unresponsive (default: 5s).
	WsWriteTimeout time.Duration
	// WsWriteBufferSize is the per-connection outgoing queue capacity (default: 16).
	WsWriteBufferSize int
	// WsProcessBufferSize is the per-connection incoming queue capacity (default: 16).
	WsProcessBufferSize int

	// OnConnect is called when a socket session opens.
	OnConnect func()
	// OnDisconnect is called when a socket session closes.
	OnDisconnect func()
	// OnRequest is called for every decoded call, with its method.
	OnRequest func(method string)
}

// Server is the RPC front-end. Its lifecycle is
// Listen -> (serve sessions) -> Shutdown; WaitUntilClosed suspends the
// caller until shutdown completes or the process receives a
// termination signal.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader

	httpServer *http.Server
	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener

	closed    chan struct{}
	closeOnce sync.Once
}

// NewServer creates a Server from the configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNoopLogger()
	}
	cfg.Logger = cfg.Logger.WithName("rpc-server")
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.OnConnect == nil {
		cfg.OnConnect = func() {}
	}
	if cfg.OnDisconnect == nil {
		cfg.OnDisconnect = func() {}
	}
	if cfg.OnRequest == nil {
		cfg.OnRequest = func(string) {}
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The server fronts local tooling and accepts connections
			// from any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		closed:     make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Handler:     s,
		IdleTimeout: cfg.IdleTimeout,
	}
	return s, nil
}

// Listen binds both transports on hostname:port and starts serving.
// Port 0 requests an ephemeral port; the returned address carries the
// port that was actually bound.
func (s *Server) Listen(hostname string, port int) (*net.TCPAddr, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(hostname, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s:%d: %w", hostname, port, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.cfg.Logger.Error("server failure", "error", err)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	s.cfg.Logger.Info("listening", "address", addr.String())
	return addr, nil
}

// Addr returns the bound listener address, nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// WaitUntilClosed suspends the caller until the server is explicitly
// shut down or the process receives SIGINT/SIGTERM. Individual request
// failures never complete it.
func (s *Server) WaitUntilClosed() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-s.closed:
	case <-stop:
		s.cfg.Logger.Info("termination signal received, shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownGrace)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			s.cfg.Logger.Error("failed to shut down cleanly", "error", err)
		}
	}
}

// Shutdown stops accepting connections, cancels all socket sessions
// (releasing their subscriptions) and completes WaitUntilClosed.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.rootCancel()
		err = s.httpServer.Shutdown(ctx)
		close(s.closed)
	})
	return err
}

// ServeHTTP implements http.Handler, routing upgrades to the socket
// transport and everything else to one-shot HTTP dispatch.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.serveWebsocket(w, r)
		return
	}
	s.servePost(w, r)
}

// servePost handles the one-shot HTTP transport: one envelope in, one
// envelope out, session over.
func (s *Server) servePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "only POST is supported", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes))
	if err != nil {
		s.writeResponse(w, jsonrpc.NewErrorResponse(jsonrpc.ID{},
			jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "failed to read request body")))
		return
	}

	req, rpcErr := jsonrpc.DecodeRequest(body)
	if rpcErr != nil {
		// Malformed envelopes answer with id:null, never a
		// transport-level failure.
		s.writeResponse(w, jsonrpc.NewErrorResponse(jsonrpc.ID{}, rpcErr))
		return
	}

	s.cfg.OnRequest(req.Method)
	s.writeResponse(w, s.cfg.Dispatcher.Handle(r.Context(), req))
}

func (s *Server) writeResponse(w http.ResponseWriter, res *jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	encoded, err := json.Marshal(res)
	if err != nil {
		s.cfg.Logger.Error("failed to encode response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if _, err := w.Write(encoded); err != nil {
		s.cfg.Logger.Error("failed to write response", "error", err)
	}
}

// serveWebsocket upgrades the request and runs the persistent session:
// concurrent read/write pumps plus one sequential processing loop, so
// responses go out in the order requests arrived on the session.
func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Error("failed to upgrade connection", "error", err)
		return
	}
	defer wsConn.Close()

	connectionID := uuid.NewString()
	conn := newWsConnection(wsConnectionConfig{
		connectionID:      connectionID,
		wsConn:            wsConn,
		writeTimeout:      s.cfg.WsWriteTimeout,
		writeBufferSize:   s.cfg.WsWriteBufferSize,
		processBufferSize: s.cfg.WsProcessBufferSize,
		logger:            s.cfg.Logger,
	})

	s.cfg.OnConnect()
	s.cfg.Logger.Info("socket session opened", "connectionID", connectionID)

	sess := newSession(s.rootCtx, connectionID, s.cfg.Subscriptions, conn, s.cfg.Logger)
	defer func() {
		sess.close()
		s.cfg.OnDisconnect()
		s.cfg.Logger.Info("socket session closed", "connectionID", connectionID)
	}()

	parentCtx, cancel := context.WithCancel(s.rootCtx)
	wg := &sync.WaitGroup{}
	wg.Add(2)
	childHandleClosure := func(error) {
		cancel()
		wg.Done()
	}

	go conn.serve(parentCtx, childHandleClosure)
	go s.processRequests(conn, sess, parentCtx, childHandleClosure)

	wg.Wait()
}

// processRequests is the sequential per-session dispatch loop.
func (s *Server) processRequests(conn *wsConnection, sess *session, parentCtx context.Context, handleClosure func(error)) {
	defer handleClosure(nil)

	for {
		var messageBytes []byte
		select {
		case <-parentCtx.Done():
			return
		case messageBytes = <-conn.rawRequests():
			if len(messageBytes) == 0 {
				return // Connection closed.
			}
		}

		req, rpcErr := jsonrpc.DecodeRequest(messageBytes)
		if rpcErr != nil {
			s.cfg.Logger.Debug("malformed envelope", "connectionID", conn.connectionID, "error", rpcErr)
			s.writeWsResponse(conn, jsonrpc.NewErrorResponse(jsonrpc.ID{}, rpcErr))
			continue
		}
		s.cfg.OnRequest(req.Method)

		var res *jsonrpc.Response
		switch req.Method {
		case methodSubscribe:
			res = sess.subscribe(req)
		case methodUnsubscribe:
			res = sess.unsubscribe(req)
		default:
			res = s.cfg.Dispatcher.Handle(parentCtx, req)
		}
		s.writeWsResponse(conn, res)
	}
}

func (s *Server) writeWsResponse(conn *wsConnection, res *jsonrpc.Response) {
	encoded, err := json.Marshal(res)
	if err != nil {
		s.cfg.Logger.Error("failed to encode response", "error", err)
		return
	}
	conn.writeRaw(encoded)
}
