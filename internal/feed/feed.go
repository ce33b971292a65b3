// Package feed streams a byte source into a characteristic as notification-sized chunks.
//
// A reader goroutine copies the source into a fixed-size byte ring; the feed loop cuts the
// ring into chunks and hands each one to the characteristic's Update. While the
// characteristic is blocked on flow control the loop stops emitting, so the notification
// queue holds at most one pending chunk. Bytes accumulate in the ring instead, and when the
// source outpaces delivery the ring overflows and the excess is dropped and counted. A slow
// central never applies backpressure to the source. At EOF the ring is flushed regardless.
//
//	f := feed.New(char, logger, feed.Options{ChunkSize: 20})
//	err := f.Run(ctx, os.Stdin)
package feed

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/blimp/internal/groutine"
	"github.com/srg/blimp/internal/peripheral"
)

const (
	// DefaultChunkSize matches the 20-byte payload of the minimum ATT MTU.
	DefaultChunkSize = 20

	// DefaultBufferSize is the byte ring capacity between the source and the chunker.
	DefaultBufferSize = 4096

	// DefaultFlushInterval is how long a partial chunk may wait for more bytes.
	DefaultFlushInterval = 50 * time.Millisecond
)

// Target receives chunks. *peripheral.MutableCharacteristic implements it.
type Target interface {
	UUID() string
	Update(value []byte) bool
	State() peripheral.DeliveryState
}

// Options configures a Feeder. Zero values use the defaults.
type Options struct {
	ChunkSize     int
	BufferSize    int
	FlushInterval time.Duration
}

// Stats is a snapshot of feeder counters.
type Stats struct {
	BytesRead    uint64
	BytesDropped uint64
	Chunks       uint64 // chunks handed to Update
	Queued       uint64 // chunks Update reported as queued rather than delivered
	Deferred     uint64 // emission passes skipped because delivery was blocked
}

// Feeder copies a reader into a Target.
type Feeder struct {
	target Target
	logger *logrus.Logger
	opts   Options
	buf    *ringbuffer.RingBuffer
	wake   chan struct{}

	bytesRead    atomic.Uint64
	bytesDropped atomic.Uint64
	chunks       atomic.Uint64
	queued       atomic.Uint64
	deferred     atomic.Uint64
}

// New creates a feeder for target.
func New(target Target, logger *logrus.Logger, opts Options) *Feeder {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.BufferSize < opts.ChunkSize {
		opts.BufferSize = max(DefaultBufferSize, opts.ChunkSize)
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	return &Feeder{
		target: target,
		logger: logger,
		opts:   opts,
		buf:    ringbuffer.New(opts.BufferSize),
		wake:   make(chan struct{}, 1),
	}
}

// Stats returns a snapshot of the feeder counters.
func (f *Feeder) Stats() Stats {
	return Stats{
		BytesRead:    f.bytesRead.Load(),
		BytesDropped: f.bytesDropped.Load(),
		Chunks:       f.chunks.Load(),
		Queued:       f.queued.Load(),
		Deferred:     f.deferred.Load(),
	}
}

// Run feeds r until EOF or ctx cancellation. On EOF the buffered remainder is flushed and
// Run returns nil; a read error is returned after flushing. A reader blocked in Read is not
// interrupted by cancellation, its goroutine exits on the next Read return.
func (f *Feeder) Run(ctx context.Context, r io.Reader) error {
	readErr := make(chan error, 1)
	groutine.Go(ctx, "feed-"+f.target.UUID(), func(ctx context.Context) {
		readErr <- f.readLoop(ctx, r)
	})

	ticker := time.NewTicker(f.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.wake:
			f.emitFull(false)
		case <-ticker.C:
			if f.emitFull(false) {
				f.flush()
			}
		case err := <-readErr:
			f.emitFull(true)
			f.flush()
			f.logger.WithFields(logrus.Fields{
				"characteristic": f.target.UUID(),
				"bytes_read":     f.bytesRead.Load(),
				"bytes_dropped":  f.bytesDropped.Load(),
				"chunks":         f.chunks.Load(),
			}).Debug("Feed source finished")
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			return nil
		}
	}
}

func (f *Feeder) readLoop(ctx context.Context, r io.Reader) error {
	tmp := make([]byte, f.opts.BufferSize)
	for {
		n, err := r.Read(tmp)
		if n > 0 {
			f.bytesRead.Add(uint64(n))
			f.enqueue(tmp[:n])
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (f *Feeder) enqueue(data []byte) {
	written, err := f.buf.Write(data)
	if written < len(data) {
		dropped := len(data) - written
		f.bytesDropped.Add(uint64(dropped))
		f.logger.WithFields(logrus.Fields{
			"characteristic": f.target.UUID(),
			"dropped":        dropped,
			"error":          err,
		}).Warn("Feed buffer overflow")
	}
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// emitFull sends every complete chunk currently buffered. Unless force is set it stops
// while the target is blocked and reports false.
func (f *Feeder) emitFull(force bool) bool {
	for f.buf.Length() >= f.opts.ChunkSize {
		if !force && f.blocked() {
			f.deferred.Add(1)
			return false
		}
		f.emit(f.opts.ChunkSize)
	}
	return force || !f.blocked()
}

func (f *Feeder) blocked() bool {
	return f.target.State() == peripheral.StateBlocked
}

// flush sends a trailing partial chunk.
func (f *Feeder) flush() {
	if n := f.buf.Length(); n > 0 {
		f.emit(min(n, f.opts.ChunkSize))
	}
}

func (f *Feeder) emit(size int) {
	chunk := make([]byte, size)
	n, err := f.buf.TryRead(chunk)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		f.logger.WithField("error", err).Warn("Feed buffer read failed")
		return
	}
	if n == 0 {
		return
	}
	f.chunks.Add(1)
	if !f.target.Update(chunk[:n]) {
		f.queued.Add(1)
	}
}
