package cache

import "context"

// Exclusive access to one slot while a frame is decoded into it.
//
// A handle from Claim must be waited on before Item is used; LockForWriting
// returns it already waited. Release publishes the slot as decoded; Abort
// empties it. Whichever runs first wins, so the usual pattern is
//
//	h, err := c.LockForWriting(ctx, slot, frame)
//	...
//	defer h.Abort()
//	...decode...
//	h.Release()
type WriteHandle[T any] struct {
	cache      *Cache[T]
	slot       *slot[T]
	generation uint64
	done       bool
}

// Blocks until the readers of the slot's previous frame are gone. On
// cancellation the claim is abandoned and the slot emptied.
func (h *WriteHandle[T]) Wait(ctx context.Context) error {
	c := h.cache
	stop := c.wakeOnDone(ctx)
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()

	if h.done {
		return ErrDestroyed
	}
	for h.slot.readers > 0 {
		if err := ctx.Err(); err != nil {
			h.abortLocked()
			return err
		}
		c.cond.Wait()
	}
	h.slot.claimed = false
	return nil
}

func (h *WriteHandle[T]) Item() T {
	return h.slot.item
}

func (h *WriteHandle[T]) Slot() int {
	return h.slot.index
}

// Logical frame being written
func (h *WriteHandle[T]) Frame() int {
	return h.slot.frame
}

// Write generation, passed back to MarkReady once the transfer completes
func (h *WriteHandle[T]) Generation() uint64 {
	return h.generation
}

// Ends the write; the slot waits for MarkReady before it can be read.
func (h *WriteHandle[T]) Release() {
	c := h.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if h.done {
		return
	}
	if h.slot.claimed {
		// never waited on, nothing was written
		h.abortLocked()
		return
	}
	h.done = true
	c.writers--
	h.slot.state = SlotDecoded
	c.cond.Broadcast()
}

// Ends the write and drops the partially written frame.
func (h *WriteHandle[T]) Abort() {
	c := h.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if h.done {
		return
	}
	h.abortLocked()
}

func (h *WriteHandle[T]) abortLocked() {
	c := h.cache
	h.done = true
	c.writers--
	c.unmap(h.slot)
	h.slot.claimed = false
	h.slot.state = SlotEmpty
	c.cond.Broadcast()
}

// Shared access to one ready frame
type ReadHandle[T any] struct {
	cache    *Cache[T]
	slot     *slot[T]
	frame    int
	released bool
}

func (h *ReadHandle[T]) Item() T {
	return h.slot.item
}

// Logical frame the handle was taken on
func (h *ReadHandle[T]) Frame() int {
	return h.frame
}

func (h *ReadHandle[T]) Slot() int {
	return h.slot.index
}

// Drops the read lock. Safe to call more than once.
func (h *ReadHandle[T]) Release() {
	c := h.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if h.released {
		return
	}
	h.released = true
	h.slot.readers--
	if h.slot.readers == 0 {
		c.cond.Broadcast()
	}
}
