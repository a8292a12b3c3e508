// Package objectstore models the asynchronous object-store client and
// image-context registry the AIO request state machine is built over.
// This package gives them a concrete, in-process shape so the state
// machine in pkg/aio has something real to drive.
package objectstore

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/blockforge/iopool/pkg/logging"
)

// Extent is a contiguous byte range, used both for object-local offsets
// and image-relative offsets depending on context.
type Extent struct {
	Offset uint64
	Length uint64
}

// ExtentMap is the sparse-read result: the set of extents that actually
// hold data, in ascending order.
type ExtentMap []Extent

// OpKind distinguishes the handful of operations an OpBundle can carry.
type OpKind int

const (
	// OpStat probes object existence without transferring data.
	OpStat OpKind = iota
	// OpWrite writes Data at Offset.
	OpWrite
	// OpCopyup carries parent bytes promoted into a child object; it is
	// always the first entry in a bundle that contains one.
	OpCopyup
)

// Op is one operation within an OpBundle.
type Op struct {
	Kind   OpKind
	Offset uint64
	Data   []byte
}

// OpBundle is an ordered sequence of operations submitted together via
// AioOperate, mirroring rados's op-vector semantics: all entries apply
// atomically as one object-store transaction.
type OpBundle []Op

// PrependStat inserts an existence probe at the front of the bundle,
// used when AbstractWrite.guard_write turns the first submission into
// a CHECK_EXISTS probe rather than a write.
func (b OpBundle) PrependStat() OpBundle {
	return append(OpBundle{{Kind: OpStat}}, b...)
}

// WithCopyup returns a new bundle with a copyup operation carrying
// parentBytes followed by every op already in b, matching
// send_copyup's "rbd.copyup + concrete-write follow-on ops" shape.
func (b OpBundle) WithCopyup(parentBytes []byte) OpBundle {
	out := make(OpBundle, 0, len(b)+1)
	out = append(out, Op{Kind: OpCopyup, Data: parentBytes})
	out = append(out, b...)
	return out
}

// Completion is the async handle an object-store client completes
// exactly once with a ResultCode, invoking the callback it was
// constructed with. Release is idempotent; it never fires the
// callback.
type Completion struct {
	mu       sync.Mutex
	fn       func(ResultCode)
	fired    bool
	released bool
}

// NewCompletion wraps fn so it fires at most once.
func NewCompletion(fn func(ResultCode)) *Completion {
	return &Completion{fn: fn}
}

// Complete invokes the callback with r, unless it has already fired.
// The underlying client guarantees at most one Complete call per
// submission; this guard makes that guarantee load-bearing rather than
// assumed.
func (c *Completion) Complete(r ResultCode) {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		return
	}
	c.fired = true
	fn := c.fn
	c.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

// Release marks the completion as released by its owner. Safe to call
// more than once.
func (c *Completion) Release() {
	c.mu.Lock()
	c.released = true
	c.mu.Unlock()
}

// Client is the asynchronous object-store client the AIO core consumes:
// per-object reads and operate bundles, with a read snapshot and a
// self-managed write snapshot context carried on the client itself, the
// way a duplicated rados IoCtx carries them.
type Client interface {
	// AioRead submits an async read of length bytes at off into buf,
	// completing completion with Success or a negative ResultCode.
	AioRead(oid string, completion *Completion, buf []byte, length, off uint64) error

	// AioSparseRead is AioRead plus an extent map describing which
	// byte ranges within [off, off+length) actually hold data.
	AioSparseRead(oid string, completion *Completion, extents *ExtentMap, buf []byte, length, off uint64) error

	// AioOperate submits ops as a single atomic bundle against oid.
	AioOperate(oid string, completion *Completion, ops OpBundle) error

	// SnapSetRead fixes the snapshot reads on this client observe.
	SnapSetRead(snapID uint64)

	// SelfManagedSnapSetWriteCtx sets the (sequence, snap ids) context
	// every subsequent write on this client carries, so the store can
	// preserve older snapshot versions via copy-on-write.
	SelfManagedSnapSetWriteCtx(seq uint64, snaps []uint64)

	// Dup returns an independent client sharing the same underlying
	// store but with its own snapshot-read/write context, mirroring
	// rados's IoCtx.Dup.
	Dup() Client
}

// Layout carries the striping parameters the striper needs to map
// object coordinates back to image coordinates. A single object per
// stripe unit (object size == stripe unit, stripe count 1) covers the
// cases this core exercises; richer multi-object striping is out of
// scope.
type Layout struct {
	ObjectSize uint64
}

// ImageCtx is the image-context registry the AIO core consumes: parent
// linkage, snapshot metadata, and the overlap computations that drive
// read-fallback and copy-up.
//
// snapLock and parentLock are exported-through-methods rather than
// public fields so every caller goes through LockSnapAndParent and the
// fixed snap-then-parent ordering can never be bypassed by acquiring
// parentLock alone.
type ImageCtx struct {
	ID      string
	DataCtx Client
	MdCtx   Client
	Parent  *ImageCtx
	Layout  Layout

	log *logging.Logger

	snapLock   sync.Mutex
	parentLock sync.Mutex

	// parentOverlap maps a read snapshot id to the parent overlap in
	// bytes at that snapshot. A missing entry means "no parent" or "not
	// yet computed for this snapshot".
	overlapMu     sync.Mutex
	parentOverlap map[uint64]int64

	// copiedUp is a probabilistic record of object names this image has
	// already promoted parent bytes into. It never produces a false
	// negative, so it is consulted only for observability (logging a
	// CHECK_EXISTS that a prior copy-up should have made unnecessary);
	// guard_write's state transition never depends on it, since a false
	// positive here would silently skip a copy-up a correct write needs.
	copiedUp   *bloom.BloomFilter
	copiedUpMu sync.Mutex
}

// NewImageCtx constructs an image context. log may be nil. id names
// this image's objects (see ObjectName); it need not be unique across
// a whole cluster for this package's purposes, only within whatever
// Client it is paired with.
func NewImageCtx(id string, dataCtx, mdCtx Client, parent *ImageCtx, layout Layout, log *logging.Logger) *ImageCtx {
	if log == nil {
		log = logging.Nop()
	}
	return &ImageCtx{
		ID:            id,
		DataCtx:       dataCtx,
		MdCtx:         mdCtx,
		Parent:        parent,
		Layout:        layout,
		log:           log,
		parentOverlap: make(map[uint64]int64),
		copiedUp:      bloom.NewWithEstimates(100000, 0.01),
	}
}

// ObjectName returns the store object name backing objectNo within
// this image: "<image id>.<object no>", with the object number written
// as 16 hexadecimal digits.
func (img *ImageCtx) ObjectName(objectNo uint64) string {
	return fmt.Sprintf("%s.%016x", img.ID, objectNo)
}

// LockSnapAndParent acquires snapLock then parentLock, the one fixed
// ordering every caller that touches both must use to avoid deadlock,
// and returns a function that releases them in reverse order.
func (img *ImageCtx) LockSnapAndParent() (unlock func()) {
	img.snapLock.Lock()
	img.parentLock.Lock()
	return func() {
		img.parentLock.Unlock()
		img.snapLock.Unlock()
	}
}

// GetParentOverlap returns the parent overlap, in bytes, at snapID. A
// negative overlap is a programming error; callers must treat it as
// unrecoverable rather than a normal error path.
func (img *ImageCtx) GetParentOverlap(snapID uint64) (int64, error) {
	img.overlapMu.Lock()
	defer img.overlapMu.Unlock()

	if img.Parent == nil {
		return 0, nil
	}
	overlap, ok := img.parentOverlap[snapID]
	if !ok {
		return 0, nil
	}
	if overlap < 0 {
		panic(fmt.Sprintf("objectstore: negative parent overlap %d at snapshot %d", overlap, snapID))
	}
	return overlap, nil
}

// SetParentOverlap records the parent overlap at snapID. Test and setup
// code uses this to model what the (unspecified) snapshot table would
// otherwise compute.
func (img *ImageCtx) SetParentOverlap(snapID uint64, overlap int64) {
	img.overlapMu.Lock()
	defer img.overlapMu.Unlock()
	img.parentOverlap[snapID] = overlap
}

// PruneParentExtents trims extents to at most overlap bytes total,
// preserving order, and returns the number of bytes retained.
func (img *ImageCtx) PruneParentExtents(extents []Extent, overlap uint64) ([]Extent, uint64) {
	pruned := make([]Extent, 0, len(extents))
	var kept uint64
	for _, e := range extents {
		if kept >= overlap {
			break
		}
		remaining := overlap - kept
		length := e.Length
		if length > remaining {
			length = remaining
		}
		if length == 0 {
			continue
		}
		pruned = append(pruned, Extent{Offset: e.Offset, Length: length})
		kept += length
	}
	return pruned, kept
}

// NoteCopiedUp records that oid has had parent bytes promoted into it.
func (img *ImageCtx) NoteCopiedUp(oid string) {
	img.copiedUpMu.Lock()
	img.copiedUp.AddString(oid)
	img.copiedUpMu.Unlock()
}

// ObserveCheckExists logs when a CHECK_EXISTS probe runs against an
// object the bloom filter believes was already copied up — a hint that
// the probe was likely redundant, never a decision input.
func (img *ImageCtx) ObserveCheckExists(oid string) {
	img.copiedUpMu.Lock()
	maybe := img.copiedUp.TestString(oid)
	img.copiedUpMu.Unlock()
	if maybe {
		img.log.Debug("check-exists probe against a likely already-copied-up object", logging.Fields{"oid": oid})
	}
}
