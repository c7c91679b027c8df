package rpcserver

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/walletmux/walletmux/pkg/log"
)

var (
	// defaultWsWriteTimeout is the maximum duration to wait for a write to complete.
	defaultWsWriteTimeout = 5 * time.Second
	// defaultWsProcessBufferSize is the size of the buffer for incoming messages.
	defaultWsProcessBufferSize = 16
	// defaultWsWriteBufferSize is the size of the buffer for outgoing messages.
	defaultWsWriteBufferSize = 16
)

// socketConn abstracts the methods of a WebSocket connection needed by
// wsConnection.
type socketConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	NextWriter(messageType int) (io.WriteCloser, error)
	Close() error
}

// wsConnection manages one persistent socket: a read pump feeding the
// processing sink, a write pump draining the write sink, and a close
// signal for unresponsive clients. All response and notification
// traffic for a session funnels through the single write pump, so
// concurrent writers never interleave frames.
type wsConnection struct {
	connectionID string
	wsConn       socketConn
	writeTimeout time.Duration

	logger      log.Logger
	writeSink   chan []byte
	processSink chan []byte
	closeConnCh chan struct{}
}

type wsConnectionConfig struct {
	connectionID string
	wsConn       socketConn

	writeTimeout      time.Duration
	writeBufferSize   int
	processBufferSize int
	logger            log.Logger
}

func newWsConnection(cfg wsConnectionConfig) *wsConnection {
	if cfg.logger == nil {
		cfg.logger = log.NewNoopLogger()
	}
	if cfg.writeTimeout <= 0 {
		cfg.writeTimeout = defaultWsWriteTimeout
	}
	if cfg.writeBufferSize <= 0 {
		cfg.writeBufferSize = defaultWsWriteBufferSize
	}
	if cfg.processBufferSize <= 0 {
		cfg.processBufferSize = defaultWsProcessBufferSize
	}

	return &wsConnection{
		connectionID: cfg.connectionID,
		wsConn:       cfg.wsConn,
		writeTimeout: cfg.writeTimeout,

		logger:      cfg.logger.WithKV("connectionID", cfg.connectionID),
		writeSink:   make(chan []byte, cfg.writeBufferSize),
		processSink: make(chan []byte, cfg.processBufferSize),
		closeConnCh: make(chan struct{}, 1),
	}
}

// rawRequests returns the channel of incoming raw messages. It is
// closed when the peer disconnects.
func (conn *wsConnection) rawRequests() <-chan []byte {
	return conn.processSink
}

// writeRaw queues a message for sending. If the client cannot accept
// the message within the write timeout the connection is signalled to
// close and false is returned.
func (conn *wsConnection) writeRaw(message []byte) bool {
	timer := time.NewTimer(conn.writeTimeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		select {
		case conn.closeConnCh <- struct{}{}:
		default:
		}
		return false
	case conn.writeSink <- message:
		return true
	}
}

// serve runs the read pump, the write pump and the close watcher, then
// invokes handleClosure exactly once when the connection terminates.
func (conn *wsConnection) serve(parentCtx context.Context, handleClosure func(error)) {
	childCtx, cancel := context.WithCancel(parentCtx)
	wg := &sync.WaitGroup{}
	wg.Add(3)

	var closureErr error
	var closureErrMu sync.Mutex
	childHandleClosure := func(err error) {
		closureErrMu.Lock()
		defer closureErrMu.Unlock()

		if err != nil && closureErr == nil {
			closureErr = err
		}

		cancel()
		wg.Done()
	}

	go conn.readMessages(childHandleClosure)
	go conn.writeMessages(childCtx, childHandleClosure)
	go conn.waitForConnClose(childCtx, childHandleClosure)

	wg.Wait()

	closureErrMu.Lock()
	defer closureErrMu.Unlock()
	handleClosure(closureErr)

	if err := conn.wsConn.Close(); err != nil {
		conn.logger.Debug("error closing socket", "error", err)
	}
}

func (conn *wsConnection) readMessages(handleClosure func(error)) {
	defer close(conn.processSink)

	for {
		_, messageBytes, err := conn.wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				conn.logger.Error("socket closed with unexpected reason", "error", err)
				handleClosure(err)
			} else {
				handleClosure(nil) // Normal closure.
			}
			return
		}

		if len(messageBytes) == 0 {
			continue
		}
		conn.processSink <- messageBytes
	}
}

func (conn *wsConnection) writeMessages(ctx context.Context, handleClosure func(error)) {
	defer handleClosure(nil)

	for {
		select {
		case <-ctx.Done():
			return
		case messageBytes := <-conn.writeSink:
			if len(messageBytes) == 0 {
				continue
			}

			w, err := conn.wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				conn.logger.Error("error getting writer for response", "error", err)
				continue
			}
			if _, err := w.Write(messageBytes); err != nil {
				conn.logger.Error("error writing response", "error", err)
				w.Close()
				continue
			}
			if err := w.Close(); err != nil {
				conn.logger.Error("error closing writer for response", "error", err)
			}
		}
	}
}

func (conn *wsConnection) waitForConnClose(ctx context.Context, handleClosure func(error)) {
	defer handleClosure(nil)

	select {
	case <-ctx.Done():
	case <-conn.closeConnCh:
		conn.logger.Info("socket closed by server")
	}
}
