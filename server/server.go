package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashgrove/reactor/api"
	"github.com/ashgrove/reactor/internal/connection"
	"github.com/ashgrove/reactor/internal/dispatch"
	"github.com/ashgrove/reactor/reactor"
)

// listenerAttachment is the fixed, logging-only string the listening key is
// tagged with, per spec.md §6.
const listenerAttachment = "listener"

// waitTimeoutMs bounds how long a single reactor.Wait call blocks, so the
// reactor goroutine periodically notices ctx cancellation even with no
// socket activity and no explicit Wakeup.
const waitTimeoutMs = 250

// Server runs the reactor loop, the connection table, the dispatcher, and
// the async job reaper for message type T. Construct with New, configure
// with Option values, then call Start.
type Server[T any] struct {
	cfg     Config[T]
	factory api.MessageFactory[T]

	mu      sync.Mutex
	started bool
	stopped bool

	listener *net.TCPListener
	listenFd int32
	rx       reactor.Reactor

	table      *connection.Table[T]
	queue      *dispatch.AsyncQueue[T]
	assembly   *dispatch.ResponseAssembly[T]
	dispatcher *dispatch.Dispatcher[T]

	nextConnID int64

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New constructs a Server for messages decoded by factory. factory's
// HeaderSize becomes the default framing width unless WithHeaderSize
// overrides it.
func New[T any](factory api.MessageFactory[T], opts ...Option[T]) *Server[T] {
	cfg := defaultConfig[T]()
	if hs := factory.HeaderSize(); hs > 0 {
		cfg.HeaderSize = hs
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Server[T]{cfg: cfg, factory: factory}
}

// SetHandler registers a synchronous handler. Returns ErrServerStarted once
// Start has been called, so configuration is frozen from then on
// (SPEC_FULL.md §9). If an async handler is also registered, the async
// handler receives every message regardless of registration order.
func (s *Server[T]) SetHandler(h api.MessageHandler[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return api.ErrServerStarted
	}
	s.cfg.SyncHandler = h
	return nil
}

// SetAsyncHandler registers an asynchronous handler. See SetHandler.
func (s *Server[T]) SetAsyncHandler(h api.AsyncMessageHandler[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return api.ErrServerStarted
	}
	s.cfg.AsyncHandler = h
	return nil
}

// Start binds the listening socket, constructs the epoll reactor, and
// launches the reactor goroutine and the async job reaper goroutine. It
// returns once the listener is accepting; I/O runs on the background
// goroutines reachable through Wait.
func (s *Server[T]) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return api.ErrServerStarted
	}

	addr, err := net.ResolveTCPAddr("tcp", s.cfg.ListenAddr)
	if err != nil {
		return api.NewFrameError(api.KindFatal, fmt.Errorf("resolve %q: %w", s.cfg.ListenAddr, err))
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return api.NewFrameError(api.KindFatal, fmt.Errorf("listen %q: %w", s.cfg.ListenAddr, err))
	}

	fd, err := extractFd(ln)
	if err != nil {
		ln.Close()
		return api.NewFrameError(api.KindFatal, fmt.Errorf("extract listener fd: %w", err))
	}

	rx, err := reactor.New(s.cfg.MaxEpollBatch)
	if err != nil {
		ln.Close()
		return api.NewFrameError(api.KindFatal, err)
	}
	if err := rx.Add(fd, reactor.Read); err != nil {
		rx.Close()
		ln.Close()
		return api.NewFrameError(api.KindFatal, err)
	}

	pool := connection.NewReaderPool[T](s.cfg.ReaderPoolCapacity, s.factory, s.cfg.HeaderSize, s.cfg.MaxBodyBytes)
	s.table = connection.NewTable[T](pool)
	s.queue = dispatch.NewAsyncQueue[T]()
	s.assembly = dispatch.NewResponseAssembly[T](s.cfg.HeaderSize, s.cfg.Refiners...)
	s.dispatcher = dispatch.NewDispatcher[T](
		s.cfg.SyncHandler,
		s.cfg.AsyncHandler,
		s.queue,
		s.assembly,
		s.table,
		s.cfg.InvalidKeyHandler,
		s.cfg.Logger,
	)

	s.listener = ln
	s.listenFd = fd
	s.rx = rx
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	s.group = g

	g.Go(func() error { return s.reactorLoop(gctx) })
	g.Go(func() error { s.superviseReaper(gctx); return nil })

	s.cfg.Logger.Info("server started", "addr", s.cfg.ListenAddr, "attachment", listenerAttachment)
	return nil
}

// Addr returns the listener's bound address. Only valid after Start.
func (s *Server[T]) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Wait blocks until the reactor goroutine exits (normally only on Stop, or
// on a KindFatal epoll error) and returns its error, if any.
func (s *Server[T]) Wait() error {
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	if g == nil {
		return nil
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Stop cancels the reactor and reaper goroutines, closes the reactor, the
// listener, and every open connection. A reactor goroutine blocked in Wait
// notices the cancellation once that Wait returns, within waitTimeoutMs. Shutdown is immediate, not graceful, per spec.md §1 Non-goals.
func (s *Server[T]) Stop() error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	rx := s.rx
	ln := s.listener
	table := s.table
	s.mu.Unlock()

	cancel()
	var err error
	if rx != nil {
		err = rx.Close()
	}
	if ln != nil {
		ln.Close()
	}
	if table != nil {
		table.CloseAll()
	}
	s.cfg.Logger.Info("server stopped")
	return err
}

// reactorLoop is the single-threaded selector loop: ReactorLoop from
// spec.md §4.5. It owns s.rx, s.table, and every per-connection reader and
// writer for the server's lifetime.
func (s *Server[T]) reactorLoop(ctx context.Context) error {
	events := make([]reactor.Event, 0, s.cfg.MaxEpollBatch)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		evs, err := s.rx.Wait(events, waitTimeoutMs)
		if err != nil {
			return api.NewFrameError(api.KindFatal, err)
		}
		events = evs

		for _, ev := range evs {
			if ev.Fd == s.listenFd {
				s.acceptOne()
				continue
			}
			s.handleConnEvent(ev)
		}
	}
}

// acceptOne accepts at most one pending connection. Level-triggered epoll
// reports the listening fd again next Wait if more than one connection is
// backlogged, so draining the whole backlog in one call is unnecessary.
func (s *Server[T]) acceptOne() {
	conn, err := s.listener.AcceptTCP()
	if err != nil {
		return
	}

	fd, err := extractFd(conn)
	if err != nil {
		s.cfg.Logger.Warn("accept: failed to extract fd", "error", err)
		conn.Close()
		return
	}
	if err := setNonblocking(fd); err != nil {
		s.cfg.Logger.Warn("accept: failed to set nonblocking", "error", err)
		conn.Close()
		return
	}

	key := api.ConnKey(fd)
	c := s.table.Add(conn, fd, s.onQueueNonEmpty(fd), s.onQueueEmpty(fd))

	if err := s.rx.Add(fd, reactor.Read); err != nil {
		s.cfg.Logger.Warn("accept: failed to register fd", "error", err)
		s.table.Remove(key)
		return
	}

	id := atomic.AddInt64(&s.nextConnID, 1)
	s.cfg.Logger.Debug("accepted connection", "attachment", fmt.Sprintf("client %d", id), "fd", c.Fd)
}

// onQueueNonEmpty and onQueueEmpty keep a connection's epoll interest set
// in sync with whether its writer.Queue holds anything, per the Writer
// invariant in spec.md §4.4. Either may run on the reactor goroutine (a
// sync handler's reply) or the reaper goroutine (an async result), so both
// always follow the Modify with a Wakeup per spec.md §5's cross-thread
// ordering rule.
func (s *Server[T]) onQueueNonEmpty(fd int32) func() {
	return func() {
		if err := s.rx.Modify(fd, reactor.Read|reactor.Write); err != nil {
			s.cfg.Logger.Warn("failed to arm write interest", "fd", fd, "error", err)
		}
		s.rx.Wakeup()
	}
}

func (s *Server[T]) onQueueEmpty(fd int32) func() {
	return func() {
		if err := s.rx.Modify(fd, reactor.Read); err != nil {
			s.cfg.Logger.Warn("failed to clear write interest", "fd", fd, "error", err)
		}
		s.rx.Wakeup()
	}
}

func (s *Server[T]) handleConnEvent(ev reactor.Event) {
	key := api.ConnKey(ev.Fd)
	conn, ok := s.table.Get(key)
	if !ok {
		s.cfg.InvalidKeyHandler.Handle(key)
		return
	}

	if ev.Error {
		s.closeConnection(conn, nil)
		return
	}

	if ev.Ready&reactor.Read != 0 {
		if !s.driveRead(conn) {
			return
		}
	}

	if ev.Ready&reactor.Write != 0 {
		if err := conn.Writer.Handle(); err != nil {
			s.logClose(key, err)
			s.closeConnection(conn, err)
		}
	}
}

// driveRead runs one RequestReader.Read cycle and then drains any further
// frames the scatter read's surplus already delivered via ReadPreloaded,
// per the Frame boundary carry-over contract in spec.md §4.3. Returns
// false if the connection was closed during this call.
func (s *Server[T]) driveRead(c *connection.Connection[T]) bool {
	msg, rem, err := c.Reader.Read(c.Fd)
	if err != nil {
		s.logClose(c.Key, err)
		s.closeConnection(c, err)
		return false
	}
	if msg != nil {
		s.dispatch(c.Key, msg)
	}

	for !rem.Empty() {
		msg, rem, err = c.Reader.ReadPreloaded(rem)
		if err != nil {
			s.logClose(c.Key, err)
			s.closeConnection(c, err)
			return false
		}
		if msg != nil {
			s.dispatch(c.Key, msg)
		}
	}
	return true
}

func (s *Server[T]) dispatch(key api.ConnKey, msg *api.Message[T]) {
	if err := s.dispatcher.Dispatch(key, msg); err != nil {
		s.cfg.Logger.Warn("handler failed, closing connection", "key", key, "error", err)
		if c, ok := s.table.Get(key); ok {
			s.closeConnection(c, err)
		}
	}
}

func (s *Server[T]) logClose(key api.ConnKey, err error) {
	switch {
	case err == nil, api.IsKind(err, api.KindEndOfStream):
		// benign closure, no log per spec.md §7
	case api.IsKind(err, api.KindMalformedFrame), api.IsKind(err, api.KindCodecError):
		s.cfg.Logger.Warn("closing connection", "key", key, "error", err)
	default:
		s.cfg.Logger.Error("closing connection", "key", key, "error", err)
	}
}

func (s *Server[T]) closeConnection(c *connection.Connection[T], _ error) {
	s.rx.Remove(c.Fd)
	s.table.Remove(c.Key)
}

// superviseReaper runs the AsyncJobReaper and restarts it if it terminates
// on AsyncFailure, logging loudly rather than leaving async replies
// silently broken forever — the resolution to the Open Question in
// spec.md §9 that this codebase treats the original "abandon the async
// path" behavior as a defect.
func (s *Server[T]) superviseReaper(ctx context.Context) {
	reaper := dispatch.NewAsyncJobReaper[T](
		s.queue, s.assembly, s.table, s.cfg.InvalidKeyHandler, s.cfg.Logger, s.cfg.AsyncPollTimeout,
	)

	backoff := 100 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		err := reaper.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}
		s.cfg.Logger.Error("async job reaper terminated, restarting", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
