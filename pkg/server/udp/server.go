// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package udp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/coapscope/pkg/handler"
	"github.com/absmach/coapscope/pkg/parser"
)

const (
	// DefaultSessionTimeout is the default timeout for idle client sessions.
	DefaultSessionTimeout = 30 * time.Second

	// DefaultShutdownTimeout is the default timeout for graceful shutdown.
	DefaultShutdownTimeout = 30 * time.Second

	// MaxDatagramSize is the maximum size of a UDP datagram.
	MaxDatagramSize = 65535

	// DefaultBufferSize is the default datagram buffer size. CoAP messages
	// should fit an IP packet, but block-wise transfers with SZX 7 need 2 KiB
	// of payload plus options.
	DefaultBufferSize = 8192

	// DefaultWorkerPoolSize is the default number of decode workers.
	DefaultWorkerPoolSize = 100
)

// ErrShutdownTimeout is returned when graceful shutdown exceeds the configured timeout.
var ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

// Config holds the UDP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TargetAddress is the CoAP server to proxy to (host:port)
	TargetAddress string

	// SessionTimeout is the idle timeout for client sessions.
	// A session with no datagrams in either direction for this long is closed.
	SessionTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for active sessions to drain
	// during graceful shutdown
	ShutdownTimeout time.Duration

	// MaxSessions is the maximum number of concurrent client sessions.
	// 0 means unlimited.
	MaxSessions int

	// BufferSize is the size of datagram read buffers in bytes.
	// 0 uses DefaultBufferSize; values above MaxDatagramSize are clamped.
	BufferSize int

	// WorkerPoolSize is the number of goroutines decoding upstream datagrams.
	// 0 uses DefaultWorkerPoolSize.
	WorkerPoolSize int

	// ReadBufferSize sets the socket receive buffer size (SO_RCVBUF).
	// 0 keeps the system default.
	ReadBufferSize int

	// WriteBufferSize sets the socket send buffer size (SO_SNDBUF).
	// 0 keeps the system default.
	WriteBufferSize int

	// Logger for server events
	Logger *slog.Logger
}

// packetJob is one upstream datagram queued for the worker pool.
type packetJob struct {
	clientAddr *net.UDPAddr
	data       []byte
}

// Server relays CoAP datagrams between clients and one backend, passing
// each datagram through the parser on the way.
type Server struct {
	config     Config
	parser     parser.Parser
	observer   handler.Observer
	sessions   *SessionManager
	bufferPool *sync.Pool
	packetCh   chan packetJob
	workerWg   sync.WaitGroup
	dropped    atomic.Uint64

	addrMu sync.RWMutex
	addr   net.Addr
	ready  chan struct{}
}

// New creates a new UDP server with the given configuration, parser, and observer.
func New(cfg Config, p parser.Parser, obs handler.Observer) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BufferSize > MaxDatagramSize {
		cfg.BufferSize = MaxDatagramSize
	}
	if cfg.WorkerPoolSize == 0 {
		cfg.WorkerPoolSize = DefaultWorkerPoolSize
	}
	if obs == nil {
		obs = &handler.NoopObserver{}
	}

	bufferPool := &sync.Pool{
		New: func() interface{} {
			buf := make([]byte, cfg.BufferSize)
			return &buf
		},
	}

	return &Server{
		config:     cfg,
		parser:     p,
		observer:   obs,
		sessions:   NewSessionManager(cfg.Logger, cfg.MaxSessions),
		bufferPool: bufferPool,
		packetCh:   make(chan packetJob, cfg.WorkerPoolSize*2),
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listen address, nil before Listen binds.
func (s *Server) Addr() net.Addr {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// Sessions returns the number of open client sessions.
func (s *Server) Sessions() int {
	return s.sessions.Count()
}

// Dropped returns the number of datagrams dropped because the worker pool was full.
func (s *Server) Dropped() uint64 {
	return s.dropped.Load()
}

// Listen starts the UDP server and blocks until the context is cancelled.
// On cancellation it stops reading, lets the workers finish and drains sessions.
func (s *Server) Listen(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve address %s: %w", s.config.Address, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	defer conn.Close()

	if s.config.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(s.config.ReadBufferSize); err != nil {
			s.config.Logger.Warn("failed to set read buffer size",
				slog.String("error", err.Error()))
		}
	}
	if s.config.WriteBufferSize > 0 {
		if err := conn.SetWriteBuffer(s.config.WriteBufferSize); err != nil {
			s.config.Logger.Warn("failed to set write buffer size",
				slog.String("error", err.Error()))
		}
	}

	s.addrMu.Lock()
	s.addr = conn.LocalAddr()
	s.addrMu.Unlock()
	close(s.ready)

	s.config.Logger.Info("CoAP inspector listening",
		slog.String("address", conn.LocalAddr().String()),
		slog.String("target", s.config.TargetAddress),
		slog.Duration("session_timeout", s.config.SessionTimeout),
		slog.Int("worker_pool_size", s.config.WorkerPoolSize),
		slog.Int("buffer_size", s.config.BufferSize))

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	s.startWorkerPool(workerCtx, conn)

	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	defer cleanupCancel()
	go s.sessions.Cleanup(cleanupCtx, s.config.SessionTimeout, s.observer)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		s.readUpstream(ctx, conn)
	}()

	<-ctx.Done()
	s.config.Logger.Info("shutdown signal received, closing listener")

	if err := conn.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}
	<-readDone

	close(s.packetCh)
	workerCancel()
	s.workerWg.Wait()
	s.config.Logger.Info("all workers stopped")

	return s.sessions.DrainAll(s.config.ShutdownTimeout, s.observer)
}

// readUpstream reads client datagrams and queues them for the workers.
// A full queue drops the datagram.
func (s *Server) readUpstream(ctx context.Context, conn *net.UDPConn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		bufPtr := s.bufferPool.Get().(*[]byte)
		buffer := *bufPtr

		n, clientAddr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			s.bufferPool.Put(bufPtr)
			select {
			case <-ctx.Done():
				return
			default:
				s.config.Logger.Error("failed to read UDP datagram",
					slog.String("error", err.Error()))
				continue
			}
		}

		datagram := make([]byte, n)
		copy(datagram, buffer[:n])
		s.bufferPool.Put(bufPtr)

		select {
		case s.packetCh <- packetJob{clientAddr: clientAddr, data: datagram}:
		case <-ctx.Done():
			return
		default:
			s.dropped.Add(1)
			s.config.Logger.Warn("worker pool full, dropping datagram",
				slog.String("client", clientAddr.String()))
		}
	}
}

// startWorkerPool starts the worker goroutines for datagram processing.
func (s *Server) startWorkerPool(ctx context.Context, listener *net.UDPConn) {
	for i := 0; i < s.config.WorkerPoolSize; i++ {
		s.workerWg.Add(1)
		go func(workerID int) {
			defer s.workerWg.Done()
			s.packetWorker(ctx, listener, workerID)
		}(i)
	}
	s.config.Logger.Debug("worker pool started", slog.Int("workers", s.config.WorkerPoolSize))
}

// packetWorker processes datagrams from the packet channel.
func (s *Server) packetWorker(ctx context.Context, listener *net.UDPConn, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-s.packetCh:
			if !ok {
				return
			}
			if err := s.handlePacket(ctx, listener, job.clientAddr, job.data); err != nil {
				s.config.Logger.Debug("datagram dropped",
					slog.Int("worker", workerID),
					slog.String("client", job.clientAddr.String()),
					slog.String("error", err.Error()))
			}
		}
	}
}

// handlePacket relays one upstream datagram. The first datagram of a client
// opens its session, notifies the observer and starts the downstream reader.
func (s *Server) handlePacket(ctx context.Context, listener *net.UDPConn, clientAddr *net.UDPAddr, data []byte) error {
	sess, isNew, err := s.sessions.GetOrCreate(ctx, clientAddr, s.config.TargetAddress)
	if err != nil {
		s.config.Logger.Warn("failed to get/create session",
			slog.String("client", clientAddr.String()),
			slog.String("error", err.Error()))
		return err
	}

	if isNew {
		if err := s.observer.OnSession(ctx, sess.Context); err != nil {
			s.config.Logger.Error("session handler error",
				slog.String("session", sess.ID),
				slog.String("error", err.Error()))
		}
		go s.readDownstream(sess, listener)
	}

	reader := bytes.NewReader(data)
	writer := &udpWriter{conn: sess.Backend}

	if err := s.parser.Parse(ctx, reader, writer, parser.Upstream, s.observer, sess.Context); err != nil {
		s.config.Logger.Debug("parser error",
			slog.String("session", sess.ID),
			slog.String("direction", parser.Upstream.String()),
			slog.String("error", err.Error()))
	}

	return nil
}

// readDownstream reads backend datagrams for one session and relays them to
// the client until the session is closed or stays idle.
func (s *Server) readDownstream(sess *Session, listener *net.UDPConn) {
	defer func() {
		if s.sessions.RemoveSession(sess) {
			if err := s.observer.OnDisconnect(context.Background(), sess.Context); err != nil {
				s.config.Logger.Error("disconnect handler error",
					slog.String("session", sess.ID),
					slog.String("error", err.Error()))
			}
		}
		sess.Close()
		s.config.Logger.Debug("downstream reader closed",
			slog.String("session", sess.ID))
	}()

	for {
		select {
		case <-sess.ctx.Done():
			return
		default:
		}

		bufPtr := s.bufferPool.Get().(*[]byte)
		buffer := *bufPtr

		if err := sess.Backend.SetReadDeadline(time.Now().Add(s.config.SessionTimeout)); err != nil {
			s.bufferPool.Put(bufPtr)
			s.config.Logger.Error("failed to set read deadline",
				slog.String("session", sess.ID),
				slog.String("error", err.Error()))
			return
		}

		n, err := sess.Backend.Read(buffer)
		if err != nil {
			s.bufferPool.Put(bufPtr)
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if time.Since(sess.GetLastActivity()) > s.config.SessionTimeout {
					s.config.Logger.Debug("session timeout",
						slog.String("session", sess.ID))
					return
				}
				continue
			}
			s.config.Logger.Debug("backend read error",
				slog.String("session", sess.ID),
				slog.String("error", err.Error()))
			return
		}

		sess.UpdateActivity()

		reader := bytes.NewReader(buffer[:n])
		writer := &udpClientWriter{conn: listener, addr: sess.RemoteAddr}

		if err := s.parser.Parse(sess.ctx, reader, writer, parser.Downstream, s.observer, sess.Context); err != nil {
			s.config.Logger.Debug("parser error",
				slog.String("session", sess.ID),
				slog.String("direction", parser.Downstream.String()),
				slog.String("error", err.Error()))
		}

		s.bufferPool.Put(bufPtr)
	}
}

// udpWriter is an io.Writer that writes to a connected UDP socket.
type udpWriter struct {
	conn *net.UDPConn
}

func (w *udpWriter) Write(p []byte) (n int, err error) {
	return w.conn.Write(p)
}

// udpClientWriter is an io.Writer that writes to one client through the listener.
type udpClientWriter struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

func (w *udpClientWriter) Write(p []byte) (n int, err error) {
	return w.conn.WriteToUDP(p, w.addr)
}
