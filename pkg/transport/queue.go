package transport

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// SendRecord is one unit of outbound work.
type SendRecord struct {
	SessionID uint32
	Data      []byte
}

// sendQueue is an unbounded FIFO with many producers and one consumer.
// Records popped but not yet acknowledged with done count as in flight.
type sendQueue struct {
	mu       sync.Mutex
	records  *queue.Queue
	inFlight int
	idle     chan struct{}

	// signal has capacity one; a pending token means "look again".
	signal chan struct{}
}

func newSendQueue() *sendQueue {
	return &sendQueue{
		records: queue.New(),
		signal:  make(chan struct{}, 1),
	}
}

// push appends rec and never blocks.
func (q *sendQueue) push(rec SendRecord) {
	q.mu.Lock()
	q.records.Add(rec)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pop blocks until a record is available or ctx is done.
// Cancellation wins over queued records.
func (q *sendQueue) pop(ctx context.Context) (SendRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return SendRecord{}, err
		}

		q.mu.Lock()
		if q.records.Length() > 0 {
			rec := q.records.Remove().(SendRecord)
			q.inFlight++
			q.mu.Unlock()
			return rec, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return SendRecord{}, ctx.Err()
		case <-q.signal:
		}
	}
}

// done marks the last popped record as written (or abandoned).
func (q *sendQueue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight > 0 {
		q.inFlight--
	}
	q.notifyIdleLocked()
}

func (q *sendQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.records.Length() + q.inFlight
}

// idleCh returns a channel closed once nothing is queued or in flight.
func (q *sendQueue) idleCh() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.idle == nil {
		q.idle = make(chan struct{})
	}
	ch := q.idle
	q.notifyIdleLocked()
	return ch
}

func (q *sendQueue) notifyIdleLocked() {
	if q.idle != nil && q.records.Length() == 0 && q.inFlight == 0 {
		close(q.idle)
		q.idle = nil
	}
}
