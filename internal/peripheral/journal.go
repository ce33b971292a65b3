package peripheral

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// JournalKind classifies a delivery journal entry.
type JournalKind int

const (
	JournalDelivered JournalKind = iota
	JournalQueued
	JournalRejected
	JournalSuperseded
)

func (k JournalKind) String() string {
	switch k {
	case JournalDelivered:
		return "delivered"
	case JournalQueued:
		return "queued"
	case JournalRejected:
		return "rejected"
	case JournalSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// JournalEntry is one recorded delivery event.
type JournalEntry struct {
	TsUs               int64
	Seq                uint64
	CharacteristicUUID string
	Kind               JournalKind
	Size               int
}

// MaxJournalSize guards against accidental misconfiguration.
const MaxJournalSize uint32 = 1024 * 1024

// Journal keeps the most recent delivery events in an overlapped ring buffer: when full,
// the oldest entries are overwritten. All methods are thread-safe.
type Journal struct {
	buffer      mpmc.RichOverlappedRingBuffer[JournalEntry]
	seq         atomic.Uint64
	overwritten atomic.Int64
	failed      atomic.Int64
}

// NewJournal creates a journal retaining up to size entries.
func NewJournal(size uint32) (*Journal, error) {
	if size == 0 {
		return nil, fmt.Errorf("journal size must be > 0")
	}
	if size > MaxJournalSize {
		return nil, fmt.Errorf("journal size %d exceeds maximum %d", size, MaxJournalSize)
	}
	return &Journal{
		buffer: mpmc.NewOverlappedRingBuffer[JournalEntry](size),
	}, nil
}

// Record appends an entry, overwriting the oldest one if the ring is full.
func (j *Journal) Record(uuid string, kind JournalKind, value []byte) {
	entry := JournalEntry{
		TsUs:               time.Now().UnixMicro(),
		Seq:                j.seq.Add(1),
		CharacteristicUUID: uuid,
		Kind:               kind,
		Size:               len(value),
	}
	overwrites, err := j.buffer.EnqueueM(entry)
	if err != nil {
		j.failed.Add(1)
		return
	}
	j.overwritten.Add(int64(overwrites))
}

// Drain removes and returns all retained entries, oldest first.
func (j *Journal) Drain() []JournalEntry {
	var out []JournalEntry
	for !j.buffer.IsEmpty() {
		entry, err := j.buffer.Dequeue()
		if err != nil {
			break
		}
		out = append(out, entry)
	}
	return out
}

// Overwritten returns how many entries were lost to ring overflow.
func (j *Journal) Overwritten() int64 {
	return j.overwritten.Load()
}

// Failed returns how many entries could not be recorded because the ring refused them.
func (j *Journal) Failed() int64 {
	return j.failed.Load()
}
