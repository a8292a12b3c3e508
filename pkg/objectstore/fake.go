package objectstore

import (
	"sync"

	"github.com/google/uuid"
)

// FakeClient is an in-memory Client for tests and for image contexts
// that have no parent (the degenerate base of a clone chain): an
// id-keyed map behind a mutex, honoring the Completion contract.
//
// Each AioRead, AioSparseRead and AioOperate call runs on its own
// goroutine and fires its completion from there, after the submitting
// call has returned.
type FakeClient struct {
	mu      sync.RWMutex
	objects map[string][]byte

	readSnap   uint64
	writeSeq   uint64
	writeSnaps []uint64

	id string
}

// NewFakeClient constructs an empty in-memory client.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		objects: make(map[string][]byte),
		id:      uuid.NewString(),
	}
}

// Put seeds an object directly, bypassing AioOperate. Test setup only.
func (c *FakeClient) Put(oid string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte(nil), data...)
	c.objects[oid] = cp
}

func (c *FakeClient) AioRead(oid string, completion *Completion, buf []byte, length, off uint64) error {
	go func() {
		c.mu.RLock()
		data, ok := c.objects[oid]
		c.mu.RUnlock()

		if !ok {
			completion.Complete(ErrNotFound)
			return
		}
		copyRange(buf, data, off, length)
		completion.Complete(Success)
	}()
	return nil
}

func (c *FakeClient) AioSparseRead(oid string, completion *Completion, extents *ExtentMap, buf []byte, length, off uint64) error {
	go func() {
		c.mu.RLock()
		data, ok := c.objects[oid]
		c.mu.RUnlock()

		if !ok {
			completion.Complete(ErrNotFound)
			return
		}
		n := copyRange(buf, data, off, length)
		if extents != nil && n > 0 {
			*extents = ExtentMap{{Offset: off, Length: n}}
		}
		completion.Complete(Success)
	}()
	return nil
}

func (c *FakeClient) AioOperate(oid string, completion *Completion, ops OpBundle) error {
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		existing, exists := c.objects[oid]
		var result ResultCode = Success

		for _, op := range ops {
			switch op.Kind {
			case OpStat:
				if !exists {
					result = ErrNotFound
				}
			case OpCopyup:
				if !exists {
					existing = append([]byte(nil), op.Data...)
					exists = true
				}
			case OpWrite:
				existing = writeAt(existing, op.Offset, op.Data)
				exists = true
			}
		}

		if exists {
			c.objects[oid] = existing
		}
		completion.Complete(result)
	}()
	return nil
}

func (c *FakeClient) SnapSetRead(snapID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readSnap = snapID
}

func (c *FakeClient) SelfManagedSnapSetWriteCtx(seq uint64, snaps []uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeSeq = seq
	c.writeSnaps = append([]uint64(nil), snaps...)
}

func (c *FakeClient) Dup() Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &FakeClient{
		objects:    c.objects, // shared store; only the snapshot context forks
		readSnap:   c.readSnap,
		writeSeq:   c.writeSeq,
		writeSnaps: append([]uint64(nil), c.writeSnaps...),
		id:         uuid.NewString(),
	}
}

func copyRange(buf, data []byte, off, length uint64) uint64 {
	if off >= uint64(len(data)) {
		return 0
	}
	end := off + length
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	n := copy(buf, data[off:end])
	return uint64(n)
}

func writeAt(existing []byte, offset uint64, data []byte) []byte {
	end := offset + uint64(len(data))
	if uint64(len(existing)) < end {
		grown := make([]byte, end)
		copy(grown, existing)
		existing = grown
	}
	copy(existing[offset:], data)
	return existing
}
