// Package controlrpc implements the TCP control plane a companion
// desktop client uses to read and edit configuration, tail the event
// logs, and inspect the retry queue. Framing has no length prefix: a
// request (or response) ends when a 4 KiB read comes back short,
// mirroring percebe_server.py's handle_client chunked recv loop.
package controlrpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/percebe/percebe/internal/logging"
	"github.com/percebe/percebe/internal/metrics"
	"github.com/percebe/percebe/internal/retryqueue"
	"github.com/percebe/percebe/internal/store"
)

const (
	chunkSize       = 4096
	acceptDeadline  = 1 * time.Second
	connReadTimeout = 5 * time.Second
)

// Server is the control-plane TCP listener. It is stateless between
// requests: every connection is read, decoded, dispatched, and closed
// independently.
type Server struct {
	cfg    *store.Store
	queue  *retryqueue.Queue
	logs   *store.LogSet
	logger *logging.Logger
}

// LogSet groups the three fixed event-log sinks the get_logs command
// can read from. It is the same set the polling pipeline appends to,
// shared via internal/store to avoid controlrpc importing the engine
// packages (or vice versa).
type LogSet = store.LogSet

// New builds a control-plane server over the given configuration store,
// retry queue, and event logs.
func New(cfg *store.Store, queue *retryqueue.Queue, logs *LogSet, logger *logging.Logger) *Server {
	return &Server{cfg: cfg, queue: queue, logs: logs, logger: logger}
}

// ListenAndServe binds port and accepts connections until stop is
// closed. Each connection is handled in its own goroutine so one slow
// or malicious client cannot stall the others.
func (s *Server) ListenAndServe(port int, stop <-chan struct{}) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
	if err != nil {
		return err
	}
	defer ln.Close()

	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		return errors.New("control RPC listener is not TCP")
	}

	s.logger.Info("control RPC listening", "port", port)

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		tcpLn.SetDeadline(time.Now().Add(acceptDeadline))
		conn, err := tcpLn.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			s.logger.Error("control RPC accept failed", "error", err)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	ctx := logging.WithTraceID(context.Background(), uuid.NewString())
	ctx = logging.WithRemoteAddr(ctx, conn.RemoteAddr().String())

	raw, err := readChunked(conn)
	if err != nil {
		s.logger.ErrorContext(ctx, "control RPC read failed", err)
		writeResponse(conn, Response{Status: "error", Message: err.Error()})
		return
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		writeResponse(conn, Response{Status: "error", Message: err.Error()})
		return
	}

	resp := s.dispatch(req)
	metrics.ControlRPCRequests.WithLabelValues(req.Command, resp.Status).Inc()
	s.logger.InfoContext(ctx, "control RPC request handled", "command", req.Command, "status", resp.Status)
	writeResponse(conn, resp)
}

// readChunked reads a request that may exceed one 4 KiB segment, using
// the "short read ends the message" heuristic: a chunk shorter than
// chunkSize is assumed to be the last one, and a deadline-timeout after
// at least one chunk has arrived also ends the read rather than erroring.
func readChunked(conn net.Conn) ([]byte, error) {
	var data []byte
	buf := make([]byte, chunkSize)

	for {
		conn.SetReadDeadline(time.Now().Add(connReadTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && len(data) > 0 {
				break
			}
			return nil, err
		}
		if n < chunkSize {
			break
		}
	}
	return data, nil
}

func writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	conn.Write(data)
}
