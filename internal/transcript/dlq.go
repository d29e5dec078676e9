// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package transcript

import (
	"container/ring"
	"sync"
	"time"
)

// DeadLetter is one forward attempt that exhausted retries, retained for
// observability only; it is never replayed automatically.
type DeadLetter struct {
	CallID   string
	Payload  []byte
	Err      string
	FailedAt time.Time
}

// DeadLetterQueue is a bounded FIFO ring (default 50 items) so a sustained
// App API outage cannot grow this process's memory without limit.
type DeadLetterQueue struct {
	mu   sync.Mutex
	r    *ring.Ring
	size int
	cap  int
}

// NewDeadLetterQueue constructs a queue bounded at capacity items.
func NewDeadLetterQueue(capacity int) *DeadLetterQueue {
	if capacity <= 0 {
		capacity = 50
	}
	return &DeadLetterQueue{r: ring.New(capacity), cap: capacity}
}

// Push records a failed forward, evicting the oldest entry once full.
func (q *DeadLetterQueue) Push(d DeadLetter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.r.Value = d
	q.r = q.r.Next()
	if q.size < q.cap {
		q.size++
	}
}

// Snapshot returns up to capacity dead letters, oldest first.
func (q *DeadLetterQueue) Snapshot() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeadLetter, 0, q.size)
	q.r.Do(func(v interface{}) {
		if v == nil {
			return
		}
		out = append(out, v.(DeadLetter))
	})
	return out
}

// Len reports the current item count.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}
