package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blimp/internal/peripheral"
)

// ----------------------------
// Configuration Constants
// ----------------------------

const (
	// DefaultNotifyCredits is the number of notifications that may be in flight per subscriber
	// before the transport reports itself saturated.
	DefaultNotifyCredits = 8

	// DefaultWriteResponseTimeout bounds how long an ATT write waits for the application.
	DefaultWriteResponseTimeout = 5 * time.Second
)

// Options configures a Server.
type Options struct {
	NotifyCredits        int
	OverflowPolicy       peripheral.OverflowPolicy
	WriteResponseTimeout time.Duration
}

// ServerStats is a snapshot of server counters.
type ServerStats struct {
	Subscriptions  int
	Notifications  int64
	NotifyErrors   int64
	ReadySignals   int64
	WritesAccepted int64
	WritesRefused  int64
}

// ----------------------------
// Server
// ----------------------------

// Server exposes a PeripheralManager through a go-ble device and acts as its Transport.
//
// Every subscription owns a sender: a bounded channel whose free slots are the flow-control
// tokens for that central. A delivery succeeds only if every subscriber of the characteristic
// has a free slot; otherwise no one receives the value and the starved senders are remembered.
// When a starved sender drains a slot the server signals readiness to the manager.
type Server struct {
	manager *peripheral.PeripheralManager
	logger  *logrus.Logger
	opts    Options

	mu      sync.RWMutex
	senders map[string]map[peripheral.PeerID]*sender // by characteristic UUID

	starved mapset.Set[*sender]

	notifications  atomic.Int64
	notifyErrors   atomic.Int64
	readySignals   atomic.Int64
	writesAccepted atomic.Int64
	writesRefused  atomic.Int64
}

type sender struct {
	charUUID string
	peer     peripheral.Peer
	ch       chan []byte
}

// notifyWriter is the part of ble.Notifier a subscription loop needs.
type notifyWriter interface {
	Context() context.Context
	Write(b []byte) (int, error)
}

// statusWriter is the part of ble.ResponseWriter a write handler needs.
type statusWriter interface {
	SetStatus(status ble.ATTError)
}

// NewServer creates a server and installs it as the manager's transport.
func NewServer(manager *peripheral.PeripheralManager, logger *logrus.Logger, opts Options) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.NotifyCredits <= 0 {
		opts.NotifyCredits = DefaultNotifyCredits
	}
	if opts.WriteResponseTimeout <= 0 {
		opts.WriteResponseTimeout = DefaultWriteResponseTimeout
	}
	s := &Server{
		manager: manager,
		logger:  logger,
		opts:    opts,
		senders: make(map[string]map[peripheral.PeerID]*sender),
		starved: mapset.NewSet[*sender](),
	}
	manager.SetTransport(s)
	return s
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() ServerStats {
	s.mu.RLock()
	subs := 0
	for _, bySub := range s.senders {
		subs += len(bySub)
	}
	s.mu.RUnlock()
	return ServerStats{
		Subscriptions:  subs,
		Notifications:  s.notifications.Load(),
		NotifyErrors:   s.notifyErrors.Load(),
		ReadySignals:   s.readySignals.Load(),
		WritesAccepted: s.writesAccepted.Load(),
		WritesRefused:  s.writesRefused.Load(),
	}
}

// ----------------------------
// Transport
// ----------------------------

// AttemptDeliver offers value to every subscriber of c without blocking.
// It runs under the characteristic lock, which makes this the only producer for c's senders.
func (s *Server) AttemptDeliver(value []byte, c *peripheral.MutableCharacteristic) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySub := s.senders[c.UUID()]
	full := false
	for _, snd := range bySub {
		// Mark before checking so a slot freed in between is seen by one side or the other.
		s.starved.Add(snd)
		if len(snd.ch) < cap(snd.ch) {
			s.starved.Remove(snd)
			continue
		}
		full = true
	}
	if full {
		return false
	}

	for _, snd := range bySub {
		v := make([]byte, len(value))
		copy(v, value)
		snd.ch <- v
	}
	return true
}

// ----------------------------
// GATT handlers
// ----------------------------

func (s *Server) readHandler(c *peripheral.MutableCharacteristic) ble.ReadHandlerFunc {
	return func(req ble.Request, rsp ble.ResponseWriter) {
		v := c.Value()
		off := req.Offset()
		if off > len(v) {
			rsp.SetStatus(ble.ErrInvalidOffset)
			return
		}
		if _, err := rsp.Write(v[off:]); err != nil {
			s.logger.WithFields(logrus.Fields{
				"characteristic": c.UUID(),
				"error":          err,
			}).Warn("Read response truncated")
		}
	}
}

func (s *Server) writeHandler(c *peripheral.MutableCharacteristic) ble.WriteHandlerFunc {
	return func(req ble.Request, rsp ble.ResponseWriter) {
		var sw statusWriter
		if rsp != nil {
			sw = rsp
		}
		s.handleWrite(c, centralFromConn(req.Conn()), req.Data(), req.Offset(), sw)
	}
}

func (s *Server) notifyHandler(c *peripheral.MutableCharacteristic) ble.NotifyHandlerFunc {
	return func(req ble.Request, n ble.Notifier) {
		s.runSubscription(c, centralFromConn(req.Conn()), n)
	}
}

// handleWrite passes a write to the application and, when rsp is set, waits for its status.
// Some platforms answer ATT writes themselves and pass no response writer; those writes are
// delivered as write-without-response.
func (s *Server) handleWrite(c *peripheral.MutableCharacteristic, peer peripheral.Peer, data []byte, offset int, rsp statusWriter) {
	req := peripheral.NewWriteRequest(c.UUID(), data, offset, rsp == nil)

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteResponseTimeout)
	defer cancel()

	logger := s.logger.WithFields(logrus.Fields{
		"characteristic": c.UUID(),
		"request_id":     req.ID,
		"peer":           peer.Identifier(),
		"size":           len(data),
	})

	if err := s.manager.IncomingWrite(ctx, req, peer, s.opts.OverflowPolicy); err != nil {
		s.writesRefused.Add(1)
		status := writeErrorStatus(err)
		logger.WithFields(logrus.Fields{
			"error":  err,
			"status": status,
		}).Warn("Write request refused")
		if rsp != nil {
			rsp.SetStatus(status)
		}
		return
	}
	s.writesAccepted.Add(1)

	if rsp == nil {
		return
	}

	status, err := req.Wait(ctx)
	if err != nil {
		logger.WithField("error", fmt.Errorf("%w: %w", peripheral.ErrResponseTimeout, err)).
			Warn("Application did not respond to write request")
	}
	rsp.SetStatus(status)
}

// writeErrorStatus maps a refused write to the ATT status returned to the central.
func writeErrorStatus(err error) ble.ATTError {
	switch {
	case errors.Is(err, peripheral.ErrNoWriteConsumer):
		return ble.ErrReqNotSupp
	case errors.Is(err, peripheral.ErrStreamFull), errors.Is(err, peripheral.ErrStreamClosed):
		return ble.ErrInsuffResources
	default:
		var nf *peripheral.NotFoundError
		if errors.As(err, &nf) {
			return ble.ErrAttrNotFound
		}
		return ble.ErrUnlikely
	}
}

// runSubscription serves one central's subscription until the notifier context ends.
func (s *Server) runSubscription(c *peripheral.MutableCharacteristic, peer peripheral.Peer, n notifyWriter) {
	snd := s.register(c.UUID(), peer)
	defer func() {
		// A re-subscription of the same central replaced this sender; the peer stays subscribed.
		if s.unregister(snd) {
			c.OnUnsubscribe(peer)
		}
	}()

	logger := s.logger.WithFields(logrus.Fields{
		"characteristic": c.UUID(),
		"peer":           peer.Identifier(),
	})
	logger.Info("Central subscribed")

	// The sender must exist before OnSubscribe so the drain it triggers can deliver.
	c.OnSubscribe(peer)

	ctx := n.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Central unsubscribed")
			return
		case v := <-snd.ch:
			s.signalIfStarved(snd)
			if _, err := n.Write(v); err != nil {
				s.notifyErrors.Add(1)
				logger.WithField("error", err).Error("Failed to send notification")
				continue
			}
			s.notifications.Add(1)
		}
	}
}

func (s *Server) register(charUUID string, peer peripheral.Peer) *sender {
	snd := &sender{
		charUUID: charUUID,
		peer:     peer,
		ch:       make(chan []byte, s.opts.NotifyCredits),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bySub, ok := s.senders[charUUID]
	if !ok {
		bySub = make(map[peripheral.PeerID]*sender)
		s.senders[charUUID] = bySub
	}
	if old, exists := bySub[peer.Identifier()]; exists {
		s.starved.Remove(old)
	}
	bySub[peer.Identifier()] = snd
	return snd
}

// unregister removes snd and reports whether it was still the peer's current sender.
func (s *Server) unregister(snd *sender) bool {
	current := false
	s.mu.Lock()
	if bySub, ok := s.senders[snd.charUUID]; ok && bySub[snd.peer.Identifier()] == snd {
		current = true
		delete(bySub, snd.peer.Identifier())
		if len(bySub) == 0 {
			delete(s.senders, snd.charUUID)
		}
	}
	s.mu.Unlock()

	// A departed subscriber no longer holds up delivery to the others.
	if s.starved.Contains(snd) {
		s.starved.Remove(snd)
		s.signalReady()
	}
	return current
}

// signalIfStarved reports readiness once a starved sender has a free slot again.
func (s *Server) signalIfStarved(snd *sender) {
	if !s.starved.Contains(snd) {
		return
	}
	s.starved.Remove(snd)
	s.signalReady()
}

func (s *Server) signalReady() {
	s.readySignals.Add(1)
	s.manager.OnReadyToUpdate()
}
