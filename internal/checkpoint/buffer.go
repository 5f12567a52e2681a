// Package checkpoint decouples durable writes from worker latency: workers
// append results to a Buffer and a Writer periodically swaps it out and
// appends the batch to the result store.
package checkpoint

import (
	"sync"

	"github.com/JakeFAU/ratingharvest/internal/harvest"
)

// Buffer holds results awaiting a durable flush. Workers only append; the
// Writer is the only reader.
type Buffer struct {
	mu    sync.Mutex
	items []harvest.Result
}

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds one result.
func (b *Buffer) Append(res harvest.Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, res)
}

// Swap takes everything buffered and leaves the buffer empty.
func (b *Buffer) Swap() []harvest.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

// Requeue puts a batch that failed to flush back ahead of newer results.
func (b *Buffer) Requeue(batch []harvest.Result) {
	if len(batch) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(append(make([]harvest.Result, 0, len(batch)+len(b.items)), batch...), b.items...)
}

// Len reports how many results are waiting.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
