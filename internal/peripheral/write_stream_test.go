package peripheral_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/blimp/internal/peripheral"
	"github.com/srg/blimp/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// WriteStreamSuite tests incoming write hand-off to the application consumer
type WriteStreamSuite struct {
	testutils.PeripheralSuite
}

func TestWriteStreamSuite(t *testing.T) {
	suite.Run(t, new(WriteStreamSuite))
}

func (s *WriteStreamSuite) newRequest(data string) *peripheral.WriteRequest {
	return peripheral.NewWriteRequest("2a39", []byte(data), 0, false)
}

// receive reads one request from the stream or fails after a second.
func (s *WriteStreamSuite) receive(ws *peripheral.WriteStream) peripheral.IncomingWrite {
	select {
	case w, ok := <-ws.C():
		s.Require().True(ok, "stream MUST NOT be closed")
		return w
	case <-time.After(time.Second):
		s.FailNow("timed out waiting for write request")
		return peripheral.IncomingWrite{}
	}
}

// waitQueued waits until the pump holds one request in hand-off and n are queued.
func (s *WriteStreamSuite) waitQueued(ws *peripheral.WriteStream, n int) {
	s.Require().True(testutils.Eventually(time.Second, func() bool {
		return ws.Len() == n
	}), "stream MUST settle at %d queued requests", n)
}

func (s *WriteStreamSuite) TestNoConsumerRejects() {
	// GOAL: Verify writes are refused without buffering when no consumer is registered
	//
	// TEST SCENARIO: no stream → OnIncomingWrite false → start → stream is empty

	char := s.AddCharacteristic("2a39", peripheral.PropertyWrite)
	s.Assert().False(char.OnIncomingWrite(s.newRequest("x"), testutils.NewPeer("P1")), "write MUST be refused without consumer")

	err := char.AcceptWrite(context.Background(), s.newRequest("x"), testutils.NewPeer("P1"), peripheral.OverflowBlock)
	s.Assert().ErrorIs(err, peripheral.ErrNoWriteConsumer)

	ws := char.StartAcceptingWrites(4)
	s.Assert().Equal(0, ws.Len(), "refused writes MUST NOT be buffered for a late consumer")
}

func (s *WriteStreamSuite) TestDeliveryOrder() {
	// GOAL: Verify accepted writes reach the consumer in arrival order with their peer
	//
	// TEST SCENARIO: start → three writes → consumer reads them in order

	char := s.AddCharacteristic("2a39", peripheral.PropertyWrite)
	ws := char.StartAcceptingWrites(peripheral.Unbounded)

	for _, d := range []string{"a", "b", "c"} {
		s.Require().True(char.OnIncomingWrite(s.newRequest(d), testutils.NewPeer("P1")))
	}

	for _, want := range []string{"a", "b", "c"} {
		w := s.receive(ws)
		s.Assert().Equal(want, string(w.Request.Data))
		s.Assert().Equal(peripheral.PeerID("P1"), w.Peer.Identifier())
		s.Assert().Equal("2a39", w.Request.CharacteristicUUID)
	}
	s.Assert().Equal(int64(3), ws.Metrics().Delivered)
}

func (s *WriteStreamSuite) TestStartIsIdempotent() {
	// GOAL: Verify a second start returns the active stream and keeps its capacity
	//
	// TEST SCENARIO: start(2) → start(10) → same stream, capacity 2

	char := s.AddCharacteristic("2a39", peripheral.PropertyWrite)
	first := char.StartAcceptingWrites(2)
	second := char.StartAcceptingWrites(10)

	s.Assert().Same(first, second, "second start MUST return the active stream")
	s.Assert().Equal(2, second.Cap(), "capacity MUST be ignored while a stream is active")
	s.Assert().Same(first, char.WriteStream())
}

func (s *WriteStreamSuite) TestNonPositiveCapacityIsUnbounded() {
	char := s.AddCharacteristic("2a39", peripheral.PropertyWrite)
	ws := char.StartAcceptingWrites(0)
	s.Assert().Equal(peripheral.Unbounded, ws.Cap())
}

func (s *WriteStreamSuite) TestOverflowReject() {
	// GOAL: Verify a full stream refuses new writes under the reject policy
	//
	// TEST SCENARIO: capacity 1 → one in hand-off, one queued → third rejected → backlog intact

	char := s.AddCharacteristic("2a39", peripheral.PropertyWrite)
	ws := char.StartAcceptingWrites(1)
	peer := testutils.NewPeer("P1")

	s.Require().True(char.OnIncomingWrite(s.newRequest("a"), peer))
	s.waitQueued(ws, 0)
	s.Require().True(char.OnIncomingWrite(s.newRequest("b"), peer))

	s.Assert().False(char.OnIncomingWrite(s.newRequest("c"), peer), "write MUST be rejected when full")
	err := char.AcceptWrite(context.Background(), s.newRequest("d"), peer, peripheral.OverflowReject)
	s.Assert().ErrorIs(err, peripheral.ErrStreamFull)

	s.Assert().Equal("a", string(s.receive(ws).Request.Data))
	s.Assert().Equal("b", string(s.receive(ws).Request.Data))
	s.Assert().Equal(int64(2), ws.Metrics().Rejected)
}

func (s *WriteStreamSuite) TestOverflowDropOldest() {
	// GOAL: Verify the oldest queued write is evicted under the drop-oldest policy
	//
	// TEST SCENARIO: capacity 1 → a in hand-off, b queued → c evicts b → consumer sees a, c

	char := s.AddCharacteristic("2a39", peripheral.PropertyWrite)
	ws := char.StartAcceptingWrites(1)
	peer := testutils.NewPeer("P1")
	ctx := context.Background()

	s.Require().NoError(char.AcceptWrite(ctx, s.newRequest("a"), peer, peripheral.OverflowDropOldest))
	s.waitQueued(ws, 0)
	s.Require().NoError(char.AcceptWrite(ctx, s.newRequest("b"), peer, peripheral.OverflowDropOldest))
	s.Require().NoError(char.AcceptWrite(ctx, s.newRequest("c"), peer, peripheral.OverflowDropOldest))

	s.Assert().Equal("a", string(s.receive(ws).Request.Data))
	s.Assert().Equal("c", string(s.receive(ws).Request.Data))
	s.Assert().Equal(int64(1), ws.Metrics().Dropped)
}

func (s *WriteStreamSuite) TestOverflowBlock() {
	// GOAL: Verify the block policy waits for room and honours the producer context
	//
	// TEST SCENARIO: full stream → blocked producer times out → blocked producer resumes after a read

	char := s.AddCharacteristic("2a39", peripheral.PropertyWrite)
	ws := char.StartAcceptingWrites(1)
	peer := testutils.NewPeer("P1")

	s.Require().True(char.OnIncomingWrite(s.newRequest("a"), peer))
	s.waitQueued(ws, 0)
	s.Require().True(char.OnIncomingWrite(s.newRequest("b"), peer))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := char.AcceptWrite(ctx, s.newRequest("x"), peer, peripheral.OverflowBlock)
	s.Assert().ErrorIs(err, peripheral.ErrStreamFull)
	s.Assert().ErrorIs(err, context.DeadlineExceeded)

	result := make(chan error, 1)
	go func() {
		result <- char.AcceptWrite(context.Background(), s.newRequest("c"), peer, peripheral.OverflowBlock)
	}()

	select {
	case err := <-result:
		s.FailNow("blocked producer MUST wait for room", "returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	s.Assert().Equal("a", string(s.receive(ws).Request.Data))
	select {
	case err := <-result:
		s.Require().NoError(err, "blocked producer MUST succeed once room frees up")
	case <-time.After(time.Second):
		s.FailNow("blocked producer did not resume")
	}
	s.Assert().Equal("b", string(s.receive(ws).Request.Data))
	s.Assert().Equal("c", string(s.receive(ws).Request.Data))
}

func (s *WriteStreamSuite) TestStopDeliversBacklogThenCloses() {
	// GOAL: Verify stopping refuses new writes but still delivers what was queued
	//
	// TEST SCENARIO: queue two writes → stop → new write refused → consumer reads both → C closed

	char := s.AddCharacteristic("2a39", peripheral.PropertyWrite)
	ws := char.StartAcceptingWrites(peripheral.Unbounded)
	peer := testutils.NewPeer("P1")

	s.Require().True(char.OnIncomingWrite(s.newRequest("a"), peer))
	s.Require().True(char.OnIncomingWrite(s.newRequest("b"), peer))
	char.StopAcceptingWrites()

	s.Assert().Nil(char.WriteStream(), "registration MUST be cleared")
	s.Assert().True(ws.Closed())
	s.Assert().False(char.OnIncomingWrite(s.newRequest("c"), peer), "write MUST be refused after stop")

	s.Assert().Equal("a", string(s.receive(ws).Request.Data))
	s.Assert().Equal("b", string(s.receive(ws).Request.Data))

	select {
	case _, ok := <-ws.C():
		s.Assert().False(ok, "C MUST be closed after the backlog")
	case <-time.After(time.Second):
		s.FailNow("stream was not closed")
	}
	<-ws.Done()

	next := char.StartAcceptingWrites(1)
	s.Assert().NotSame(ws, next, "start after stop MUST create a fresh stream")
}

func (s *WriteStreamSuite) TestRestartTakesOverUnreadBacklog() {
	// GOAL: Verify writes left unread on a stopped stream reach the next registered consumer
	//
	// TEST SCENARIO: queue a, b, c nobody reads → stop → start again → new stream yields a, b, c
	// in order → old stream is closed and its pump has exited

	char := s.AddCharacteristic("2a39", peripheral.PropertyWrite)
	old := char.StartAcceptingWrites(4)
	peer := testutils.NewPeer("P1")

	reqs := []*peripheral.WriteRequest{s.newRequest("a"), s.newRequest("b"), s.newRequest("c")}
	for _, r := range reqs {
		s.Require().True(char.OnIncomingWrite(r, peer))
	}
	// One request sits in hand-off, the other two stay queued.
	s.waitQueued(old, 2)

	char.StopAcceptingWrites()
	next := char.StartAcceptingWrites(4)
	s.Require().NotSame(old, next)

	select {
	case <-old.Done():
	case <-time.After(time.Second):
		s.FailNow("old stream pump MUST exit once a successor is registered")
	}
	_, ok := <-old.C()
	s.Assert().False(ok, "old stream MUST be closed")
	s.Assert().Equal(int64(3), old.Metrics().Forwarded, "every unread request MUST move to the new stream")
	s.Assert().Zero(old.Metrics().Dropped)

	for i, want := range []string{"a", "b", "c"} {
		w := s.receive(next)
		s.Assert().Same(reqs[i], w.Request, "forwarded requests MUST keep their order")
		s.Assert().Equal(want, string(w.Request.Data))
	}

	// A forwarded request is answered through the new consumer.
	s.Require().NoError(s.Manager.RespondToRequest(reqs[0], ble.ErrSuccess))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := reqs[0].Wait(ctx)
	s.Require().NoError(err)
	s.Assert().Equal(ble.ErrSuccess, status)
}

func (s *WriteStreamSuite) TestRestartAfterBacklogReadForwardsNothing() {
	// GOAL: Verify a stopped stream that was fully read hands nothing over
	//
	// TEST SCENARIO: queue a → stop → consumer reads a → start → new stream stays empty

	char := s.AddCharacteristic("2a39", peripheral.PropertyWrite)
	old := char.StartAcceptingWrites(4)
	s.Require().True(char.OnIncomingWrite(s.newRequest("a"), testutils.NewPeer("P1")))
	char.StopAcceptingWrites()
	s.Assert().Equal("a", string(s.receive(old).Request.Data))
	<-old.Done()

	next := char.StartAcceptingWrites(4)
	s.Assert().Equal(0, next.Len())
	s.Assert().Zero(old.Metrics().Forwarded)
	select {
	case w := <-next.C():
		s.Failf("unexpected request", "got %q", w.Request.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func (s *WriteStreamSuite) TestRespondToRequest() {
	// GOAL: Verify responses reach the waiting transport exactly once
	//
	// TEST SCENARIO: consumer responds → Wait returns status → second respond fails

	char := s.AddCharacteristic("2a39", peripheral.PropertyWrite)
	ws := char.StartAcceptingWrites(peripheral.Unbounded)
	req := s.newRequest("a")
	s.Require().True(char.OnIncomingWrite(req, testutils.NewPeer("P1")))

	w := s.receive(ws)
	s.Require().NoError(char.RespondToRequest(w.Request, ble.ErrSuccess))
	s.Assert().True(req.Responded())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := req.Wait(ctx)
	s.Require().NoError(err)
	s.Assert().Equal(ble.ErrSuccess, status)

	err = s.Manager.RespondToRequest(req, ble.ErrUnlikely)
	s.Assert().ErrorIs(err, peripheral.ErrAlreadyResponded, "second response MUST be refused")
}

func (s *WriteStreamSuite) TestWaitHonoursContext() {
	req := s.newRequest("a")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	status, err := req.Wait(ctx)
	s.Assert().True(errors.Is(err, context.DeadlineExceeded))
	s.Assert().Equal(ble.ErrUnlikely, status)
}

func (s *WriteStreamSuite) TestManagerCloseAbandonsStreams() {
	// GOAL: Verify manager shutdown stops pumps without a consumer
	//
	// TEST SCENARIO: queue writes nobody reads → Close → Done closes

	char := s.AddCharacteristic("2a39", peripheral.PropertyWrite)
	ws := char.StartAcceptingWrites(peripheral.Unbounded)
	for _, d := range []string{"a", "b", "c"} {
		s.Require().True(char.OnIncomingWrite(s.newRequest(d), testutils.NewPeer("P1")))
	}

	s.Manager.Close()
	select {
	case <-ws.Done():
	case <-time.After(time.Second):
		s.FailNow("pump MUST exit after Close")
	}
	s.Assert().Equal(int64(3), ws.Metrics().Dropped, "undelivered requests MUST be counted as dropped")
}

func (s *WriteStreamSuite) TestManagerCloseAnswersStrandedRequests() {
	// GOAL: Verify requests discarded on shutdown are answered instead of timing out
	//
	// TEST SCENARIO: queue a write on a stopped stream nobody reads → Close → Wait returns
	// ErrInsuffResources

	char := s.AddCharacteristic("2a39", peripheral.PropertyWrite)
	ws := char.StartAcceptingWrites(4)
	req := s.newRequest("a")
	s.Require().True(char.OnIncomingWrite(req, testutils.NewPeer("P1")))
	char.StopAcceptingWrites()

	s.Manager.Close()
	select {
	case <-ws.Done():
	case <-time.After(time.Second):
		s.FailNow("retired stream pump MUST exit after Close")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := req.Wait(ctx)
	s.Require().NoError(err)
	s.Assert().Equal(ble.ErrInsuffResources, status)
	s.Assert().Equal(int64(1), ws.Metrics().Dropped)
}

func TestParseOverflowPolicy(t *testing.T) {
	cases := map[string]peripheral.OverflowPolicy{
		"":            peripheral.OverflowReject,
		"reject":      peripheral.OverflowReject,
		"drop-oldest": peripheral.OverflowDropOldest,
		"DROP_OLDEST": peripheral.OverflowDropOldest,
		" block ":     peripheral.OverflowBlock,
	}
	for in, want := range cases {
		got, err := peripheral.ParseOverflowPolicy(in)
		if err != nil {
			t.Fatalf("ParseOverflowPolicy(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseOverflowPolicy(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := peripheral.ParseOverflowPolicy("spill"); err == nil {
		t.Error("expected error for unknown policy")
	}
}
