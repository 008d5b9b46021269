package cache

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrLocksOutstanding = errors.New("cache has outstanding locks")
	ErrDestroyed        = errors.New("cache destroyed")
	ErrFrameCached      = errors.New("frame already cached")
	ErrSlotOutOfRange   = errors.New("slot out of range")
	ErrSlotBusy         = errors.New("slot is being written")
)

type SlotState int

const (
	SlotEmpty SlotState = iota
	// Exclusively held by a decoder
	SlotWriting
	// Written, waiting for its resource transfer to finish
	SlotDecoded
	// Readable
	SlotReady
)

func (s SlotState) String() string {
	switch s {
	case SlotEmpty:
		return "empty"
	case SlotWriting:
		return "writing"
	case SlotDecoded:
		return "decoded"
	case SlotReady:
		return "ready"
	default:
		return "unknown"
	}
}

type slot[T any] struct {
	index int
	item  T
	frame int
	state SlotState

	readers int
	// set while a writer has claimed the slot and waits for readers to leave
	claimed bool

	generation uint64
	written    uint64
}

func (s *slot[T]) busy() bool {
	return s.claimed || s.state == SlotWriting || s.state == SlotDecoded
}

// Fixed ring of decoded frame slots shared by the decode pipeline and the
// render thread.
//
// Lock ordering: mu is a leaf lock. It is only held to update slot
// bookkeeping and is never held while a frame is decoded or transferred.
type Cache[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	slots []*slot[T]

	// logical frame -> slot, for slots that are writing, decoded or ready
	frames map[int]*slot[T]

	growable  bool
	construct func(slot int) (T, error)
	destruct  func(T)

	writeSeq  uint64
	writers   int
	destroyed bool
}

// Creates a cache of capacity slots, constructing each slot's item up front.
// A capacity of 0 grows by one slot whenever no empty slot is left, so every
// frame of the video stays cached.
func New[T any](capacity int, construct func(slot int) (T, error), destruct func(T)) (*Cache[T], error) {
	if capacity < 0 {
		return nil, errors.Errorf("negative cache capacity %d", capacity)
	}

	c := &Cache[T]{
		frames:    make(map[int]*slot[T]),
		growable:  capacity == 0,
		construct: construct,
		destruct:  destruct,
	}
	c.cond = sync.NewCond(&c.mu)

	for i := 0; i < capacity; i++ {
		if _, err := c.addSlot(); err != nil {
			c.destroySlots()
			return nil, err
		}
	}
	return c, nil
}

func (c *Cache[T]) addSlot() (*slot[T], error) {
	s := &slot[T]{index: len(c.slots), frame: -1}
	if c.construct != nil {
		item, err := c.construct(s.index)
		if err != nil {
			return nil, errors.Wrapf(err, "construct frame for slot %d", s.index)
		}
		s.item = item
	}
	c.slots = append(c.slots, s)
	return s, nil
}

// Number of slots currently allocated
func (c *Cache[T]) Capacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// Whether the cache grows without bound
func (c *Cache[T]) Growable() bool {
	return c.growable
}

// Picks the slot the next frame should be decoded into: an empty slot, a new
// slot when growable, or else the least recently written ready slot whose
// frame is evictable. Slots without readers are preferred. Returns -1 when
// every occupied slot holds a frame that must be kept.
func (c *Cache[T]) ChooseSlot(evictable func(frame int) bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return -1, ErrDestroyed
	}

	for _, s := range c.slots {
		if s.state == SlotEmpty && !s.claimed && s.readers == 0 {
			return s.index, nil
		}
	}

	if c.growable {
		s, err := c.addSlot()
		if err != nil {
			return -1, err
		}
		return s.index, nil
	}

	var idle, busy *slot[T]
	for _, s := range c.slots {
		if s.state != SlotReady || s.claimed || !evictable(s.frame) {
			continue
		}
		if s.readers == 0 {
			if idle == nil || s.written < idle.written {
				idle = s
			}
		} else if busy == nil || s.written < busy.written {
			busy = s
		}
	}

	switch {
	case idle != nil:
		return idle.index, nil
	case busy != nil:
		return busy.index, nil
	default:
		return -1, nil
	}
}

// Takes the exclusive write lock on slotIndex for frame, waiting first for a
// busy slot to be released and then for the readers of its old frame. There
// is no timeout: only ctx cancellation ends the wait.
func (c *Cache[T]) LockForWriting(ctx context.Context, slotIndex, frame int) (*WriteHandle[T], error) {
	stop := c.wakeOnDone(ctx)
	defer stop()

	c.mu.Lock()
	for {
		if c.destroyed {
			c.mu.Unlock()
			return nil, ErrDestroyed
		}
		if s := c.slot(slotIndex); s == nil || !s.busy() {
			break
		}
		if err := ctx.Err(); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		c.cond.Wait()
	}
	h, err := c.claimLocked(slotIndex, frame)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := h.Wait(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Claims slotIndex for frame without blocking. The slot's old frame stops
// being readable and frame counts as cached from here on. The handle must be
// waited on before its item is touched.
func (c *Cache[T]) Claim(slotIndex, frame int) (*WriteHandle[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil, ErrDestroyed
	}
	return c.claimLocked(slotIndex, frame)
}

func (c *Cache[T]) claimLocked(slotIndex, frame int) (*WriteHandle[T], error) {
	s := c.slot(slotIndex)
	if s == nil {
		return nil, errors.Wrapf(ErrSlotOutOfRange, "slot %d of %d", slotIndex, len(c.slots))
	}
	if _, ok := c.frames[frame]; ok {
		return nil, errors.Wrapf(ErrFrameCached, "frame %d", frame)
	}
	// one writer per slot; a pending transfer also owns the slot
	if s.busy() {
		return nil, errors.Wrapf(ErrSlotBusy, "slot %d is %s", slotIndex, s.state)
	}

	c.unmap(s)
	s.claimed = true
	s.state = SlotWriting
	s.frame = frame
	s.generation++
	c.writeSeq++
	s.written = c.writeSeq
	c.frames[frame] = s
	c.writers++

	return &WriteHandle[T]{cache: c, slot: s, generation: s.generation}, nil
}

// Broadcasts on the cache condition when ctx ends so waiters can notice
func (c *Cache[T]) wakeOnDone(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
}

// Marks a decoded slot readable. Returns false when the slot was rewritten
// or discarded since generation was handed out.
func (c *Cache[T]) MarkReady(slotIndex int, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slot(slotIndex)
	if s == nil || s.generation != generation || s.state != SlotDecoded {
		return false
	}
	s.state = SlotReady
	c.cond.Broadcast()
	return true
}

// Drops a decoded slot whose transfer failed.
func (c *Cache[T]) Discard(slotIndex int, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.slot(slotIndex)
	if s == nil || s.generation != generation || s.state != SlotDecoded {
		return
	}
	c.unmap(s)
	s.state = SlotEmpty
	c.cond.Broadcast()
}

// Takes a shared read lock on the ready slot holding frame.
func (c *Cache[T]) LockForReading(frame int) (*ReadHandle[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.readable(frame)
	if !ok {
		return nil, false
	}
	s.readers++
	return &ReadHandle[T]{cache: c, slot: s, frame: frame}, true
}

// Read-locks every frame in one critical section, or none of them.
func (c *Cache[T]) LockManyForReading(frames ...int) ([]*ReadHandle[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range frames {
		if _, ok := c.readable(f); !ok {
			return nil, false
		}
	}

	handles := make([]*ReadHandle[T], len(frames))
	for i, f := range frames {
		s := c.frames[f]
		s.readers++
		handles[i] = &ReadHandle[T]{cache: c, slot: s, frame: f}
	}
	return handles, true
}

// Whether frame is being decoded, awaiting transfer or ready
func (c *Cache[T]) Contains(frame int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.frames[frame]
	return ok
}

func (c *Cache[T]) IsReady(frame int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.readable(frame)
	return ok
}

// Counts how many of frames are ready
func (c *Cache[T]) CountReady(frames []int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, f := range frames {
		if _, ok := c.readable(f); ok {
			n++
		}
	}
	return n
}

// Snapshot of slot bookkeeping
type Stats struct {
	Slots       int
	Empty       int
	Writing     int
	Decoded     int
	Ready       int
	Readers     int
	WriteLocked int
}

func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{Slots: len(c.slots), WriteLocked: c.writers}
	for _, s := range c.slots {
		st.Readers += s.readers
		switch s.state {
		case SlotEmpty:
			st.Empty++
		case SlotWriting:
			st.Writing++
		case SlotDecoded:
			st.Decoded++
		case SlotReady:
			st.Ready++
		}
	}
	return st
}

// Frees every slot. All workers must be stopped and all read handles
// released first; otherwise ErrLocksOutstanding is returned and nothing is
// freed.
func (c *Cache[T]) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil
	}
	for _, s := range c.slots {
		if s.readers > 0 || s.claimed || s.state == SlotWriting {
			return errors.Wrapf(ErrLocksOutstanding, "slot %d: %d readers, state %s", s.index, s.readers, s.state)
		}
	}

	c.destroyed = true
	c.destroySlots()
	c.cond.Broadcast()
	return nil
}

func (c *Cache[T]) destroySlots() {
	if c.destruct != nil {
		for _, s := range c.slots {
			c.destruct(s.item)
		}
	}
	c.slots = nil
	c.frames = make(map[int]*slot[T])
}

func (c *Cache[T]) slot(i int) *slot[T] {
	if i < 0 || i >= len(c.slots) {
		return nil
	}
	return c.slots[i]
}

func (c *Cache[T]) readable(frame int) (*slot[T], bool) {
	s, ok := c.frames[frame]
	if !ok || s.state != SlotReady || s.claimed {
		return nil, false
	}
	return s, true
}

func (c *Cache[T]) unmap(s *slot[T]) {
	if s.frame >= 0 && c.frames[s.frame] == s {
		delete(c.frames, s.frame)
	}
	s.frame = -1
}
