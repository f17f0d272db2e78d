package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"matchbook/internal/common"
	"matchbook/internal/engine"
	"matchbook/internal/report"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	defaultNWorkers    = 10
	clientMessagesSize = 64
	writeTimeout       = 5 * time.Second
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// ClientSession contains relevant information pertaining to an individual
// connected TCP session. Ids are never reused within a server's lifetime.
type ClientSession struct {
	id      uint64
	address string
	conn    net.Conn
}

// ClientMessage links a message, or the reason it could not be parsed, to the
// session sending it. A closed message marks the end of the session.
type ClientMessage struct {
	session uint64
	message Message
	err     error
	closed  bool
}

// Server exposes an engine over TCP. Connections are read by a pool of
// workers, but every message is applied to the engine by a single session
// handler, one at a time and in arrival order.
type Server struct {
	address            string
	port               int
	engine             *engine.Engine
	pool               WorkerPool
	cancel             context.CancelFunc
	clientSessions     map[uint64]ClientSession
	clientSessionsLock sync.Mutex
	clientMessages     chan ClientMessage
	lastSession        uint64

	// Order id to the session that placed it. Only the session handler
	// touches this.
	owners map[uuid.UUID]uint64

	addr  net.Addr
	ready chan struct{}
}

func New(address string, port int, eng *engine.Engine, workers int) *Server {
	if workers <= 0 {
		workers = defaultNWorkers
	}
	return &Server{
		address:        address,
		port:           port,
		engine:         eng,
		pool:           NewWorkerPool(workers),
		clientSessions: make(map[uint64]ClientSession),
		clientMessages: make(chan ClientMessage, clientMessagesSize),
		owners:         make(map[uuid.UUID]uint64),
		ready:          make(chan struct{}),
	}
}

// Ready is closed once the server is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound listener address, nil until Ready is closed.
func (s *Server) Addr() net.Addr {
	select {
	case <-s.ready:
		return s.addr
	default:
		return nil
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Run serves until ctx is cancelled or Shutdown is called.
func (s *Server) Run(ctx context.Context) error {
	// Setup a cancel on the context for future shutdown.
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.Shutdown()
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", net.JoinHostPort(s.address, strconv.Itoa(s.port)))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return err
	}
	s.addr = listener.Addr()
	close(s.ready)

	// Unblock Accept once we start dying.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
		return nil
	})

	// Start the worker pool.
	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})

	// Start the session handler.
	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", s.addr.String()).Msg("server running")

	// Start accepting connections.
	for t.Alive() {
		conn, err := listener.Accept()
		if err != nil {
			if !t.Alive() {
				break
			}
			log.Error().Err(err).Msg("error accepting client")
			continue
		}

		// Add the client to client sessions we are tracking.
		// We expect to potentially maintain a long TCP session.
		session := s.addClientSession(conn)
		log.Info().
			Uint64("session", session.id).
			Str("address", session.address).
			Msg("new client added")

		// Pass over the session to be read from.
		if !s.pool.AddTask(t, session) {
			s.deleteClientSession(session.id)
			conn.Close()
		}
	}

	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Report serializes and writes a report to a connected client. A client that
// cannot be written to is dropped.
func (s *Server) Report(session uint64, r Report) error {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	client, ok := s.clientSessions[session]
	if !ok {
		return ErrClientDoesNotExist
	}

	b, err := r.Serialize()
	if err != nil {
		return fmt.Errorf("unable to encode report: %w", err)
	}
	if err := client.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("unable to send report: %w", err)
	}
	if _, err := client.conn.Write(b); err != nil {
		delete(s.clientSessions, session)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

func (s *Server) reply(session uint64, r Report) {
	if err := s.Report(session, r); err != nil {
		log.Warn().
			Err(err).
			Uint64("session", session).
			Int("report", int(r.MessageType)).
			Msg("report not delivered")
	}
}

// sessionHandler reads off incoming messages from clients and applies them to
// the engine. Messages are received from the pool of workers. After every
// message the engine's acknowledgment queues are drained to the clients that
// own the acknowledged orders.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-s.clientMessages:
			s.handleMessage(message)
			s.dispatchAcks()
		}
	}
}

func (s *Server) handleMessage(m ClientMessage) {
	if m.closed {
		s.endSession(m.session)
		return
	}
	if m.err != nil {
		s.reply(m.session, newErrorReport(m.err))
		return
	}

	switch msg := m.message.(type) {
	case NewOrderMessage:
		s.placeOrder(m.session, msg)
	case CancelOrderMessage:
		s.cancelOrder(m.session, msg)
	case QueryMessage:
		s.query(m.session, msg)
	case BaseMessage:
		// Heartbeats only keep the session alive.
	default:
		s.reply(m.session, newErrorReport(fmt.Errorf("%w: %T", ErrInvalidMessageType, msg)))
	}
}

// endSession forgets the orders a finished session placed. Their orders stay
// on the book, but execution reports for them have nowhere to go.
func (s *Server) endSession(session uint64) {
	for id, owner := range s.owners {
		if owner == session {
			delete(s.owners, id)
		}
	}
}

func (s *Server) placeOrder(session uint64, msg NewOrderMessage) {
	order, err := msg.Order()
	if err != nil {
		s.reply(session, newErrorReport(err))
		return
	}
	if order.Owner == "" {
		order.Owner = s.sessionAddress(session)
	}

	final, _, err := s.engine.Submit(order)
	if err != nil {
		s.reply(session, newErrorReport(err))
		return
	}
	s.owners[final.UUID] = session
	s.reply(session, newPlacedReport(final))
}

func (s *Server) cancelOrder(session uint64, msg CancelOrderMessage) {
	result, err := s.engine.CancelOrder(msg.OrderUUID)
	payload, encErr := report.MarshalCancel(result)
	if encErr != nil {
		log.Error().Err(encErr).Str("order", msg.OrderUUID.String()).Msg("unable to encode cancel result")
	}
	if result.Outcome == engine.OutcomeCancelled {
		delete(s.owners, msg.OrderUUID)
	}
	s.reply(session, newCancelReport(result, payload, err))
}

func (s *Server) query(session uint64, msg QueryMessage) {
	var (
		payload []byte
		err     error
		typeOf  ReportMessageType
	)
	switch msg.TypeOf {
	case QueryBook:
		typeOf = BookReport
		bids, asks := s.engine.GetOrderBook(msg.Ticker)
		payload, err = report.MarshalBook(msg.Ticker, bids, asks)
	case QueryTrades:
		typeOf = TradesReport
		payload, err = report.MarshalTrades(s.engine.GetTrades(msg.Ticker))
	default:
		err = fmt.Errorf("%w: %d", ErrInvalidMessageType, msg.TypeOf)
	}
	if err != nil {
		s.reply(session, newErrorReport(err))
		return
	}
	s.reply(session, newPayloadReport(typeOf, msg.Ticker, payload))
}

// dispatchAcks drains both ack queues, buyer side first, and routes each ack
// to the session that placed the order. Orders that can no longer trade are
// forgotten afterwards.
func (s *Server) dispatchAcks() {
	touched := make(map[uuid.UUID]struct{})
	for _, side := range []common.Side{common.Buy, common.Sell} {
		for ack := range s.engine.Acks(side) {
			touched[ack.OrderUUID] = struct{}{}
			session, ok := s.owners[ack.OrderUUID]
			if !ok {
				log.Debug().Str("order", ack.OrderUUID.String()).Msg("ack for unowned order")
				continue
			}
			s.reply(session, newExecutionReport(ack))
		}
	}

	for id := range touched {
		if order, ok := s.engine.Order(id); ok && order.Status.Terminal() {
			delete(s.owners, id)
		}
	}
}

// handleConnection owns one client connection for its lifetime, reading
// framed messages and passing them to the session handler. Malformed messages
// are reported back to the client; read failures end the session.
// Note, any error returned from here is fatal.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	session, ok := task.(ClientSession)
	if !ok {
		return ErrImproperConversion
	}
	conn, address := session.conn, session.address

	done := make(chan struct{})
	defer func() {
		close(done)
		s.deleteClientSession(session.id)
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error().Str("address", address).Err(err).Msg("unable to close connection")
		}
		// Let the session handler drop the session's order ownership.
		select {
		case s.clientMessages <- ClientMessage{session: session.id, closed: true}:
		case <-t.Dying():
		}
	}()
	// Unblock the read below when the server dies.
	go func() {
		select {
		case <-t.Dying():
			conn.Close()
		case <-done:
		}
	}()

	for {
		message, err := ReadMessage(conn)
		if err != nil && !errors.Is(err, ErrMalformedMessage) {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Info().Str("address", address).Msg("client disconnected")
			} else {
				log.Error().
					Err(err).
					Str("address", address).
					Msg("error reading from connection")
			}
			return nil
		}

		// Pass over to the message handling buffer.
		select {
		case s.clientMessages <- ClientMessage{session: session.id, message: message, err: err}:
		case <-t.Dying():
			return nil
		}
	}
}

// addClientSession is an atomic map add under a fresh session id
func (s *Server) addClientSession(conn net.Conn) ClientSession {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	s.lastSession++
	session := ClientSession{
		id:      s.lastSession,
		address: conn.RemoteAddr().String(),
		conn:    conn,
	}
	s.clientSessions[session.id] = session
	return session
}

// deleteClientSession is an atomic map remove
func (s *Server) deleteClientSession(id uint64) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	delete(s.clientSessions, id)
}

func (s *Server) sessionAddress(id uint64) string {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	return s.clientSessions[id].address
}
