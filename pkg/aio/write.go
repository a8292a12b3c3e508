package aio

import (
	"fmt"

	"github.com/blockforge/iopool/pkg/logging"
	"github.com/blockforge/iopool/pkg/objectstore"
)

// WriteState is AbstractWrite's state machine position: CHECK_EXISTS
// probes for a logically-backed-by-parent object, COPYUP promotes
// parent bytes forward, FINAL applies the payload.
type WriteState int

const (
	StateCheckExists WriteState = iota
	StateCopyup
	StateFinal
)

func (s WriteState) String() string {
	switch s {
	case StateCheckExists:
		return "CHECK_EXISTS"
	case StateCopyup:
		return "COPYUP"
	case StateFinal:
		return "FINAL"
	default:
		return fmt.Sprintf("WriteState(%d)", int(s))
	}
}

// AbstractWrite is a concrete write request base. Concrete writers
// supply the payload op bundle and, optionally, the copy-up follow-on
// ops their write kind needs appended after the promoted parent bytes.
type AbstractWrite struct {
	AioRequest

	state WriteState

	objectImageExtents []objectstore.Extent
	guardOverlap       uint64

	readOp  objectstore.OpBundle
	writeOp objectstore.OpBundle

	// addCopyupOps returns the concrete write's own operations to
	// append after the copyup op. Defaults to writeOp when nil.
	addCopyupOps func() objectstore.OpBundle
}

// NewAbstractWrite constructs a write request and runs guard_write.
// objectImageExtents are the image extents this object covers,
// pre-recorded by the caller; writeOp is the payload operation bundle
// applied in FINAL.
func NewAbstractWrite(
	img *objectstore.ImageCtx,
	oid string,
	objectNo, objectOff, objectLen, snapID uint64,
	objectImageExtents []objectstore.Extent,
	writeOp objectstore.OpBundle,
	addCopyupOps func() objectstore.OpBundle,
	log *logging.Logger,
	onComplete func(objectstore.ResultCode),
) *AbstractWrite {
	w := &AbstractWrite{
		AioRequest:         newAioRequest(img, oid, objectNo, objectOff, objectLen, snapID, false, log, onComplete),
		state:              StateFinal,
		objectImageExtents: objectImageExtents,
		writeOp:            writeOp,
		addCopyupOps:       addCopyupOps,
	}
	w.guardWrite()
	return w
}

// State returns the request's current position in the state machine.
func (w *AbstractWrite) State() WriteState { return w.state }

// guardWrite is run once at construction: if the image has a parent
// and this object lies within the parent overlap, the request starts
// at CHECK_EXISTS with a stat prepended to readOp instead of starting
// at FINAL.
func (w *AbstractWrite) guardWrite() {
	if w.Img.Parent == nil {
		return
	}

	overlap, _ := w.Img.GetParentOverlap(w.SnapID)
	if overlap <= 0 {
		return
	}

	_, objectOverlap := w.Img.PruneParentExtents(w.objectImageExtents, uint64(overlap))
	if objectOverlap == 0 {
		return
	}

	w.guardOverlap = objectOverlap
	w.state = StateCheckExists
	w.readOp = objectstore.OpBundle{}.PrependStat()
}

// Send submits the operation appropriate to the current state:
// CHECK_EXISTS submits the stat probe, FINAL submits the payload.
func (w *AbstractWrite) Send() error {
	client := w.Img.DataCtx.Dup()
	completion := objectstore.NewCompletion(w.onResult)

	switch w.state {
	case StateCheckExists:
		if len(w.readOp) == 0 {
			panic("aio: CHECK_EXISTS requires a non-empty read operation")
		}
		return client.AioOperate(w.OID, completion, w.readOp)
	case StateFinal:
		if len(w.writeOp) == 0 {
			panic("aio: FINAL requires a non-empty write operation")
		}
		return client.AioOperate(w.OID, completion, w.writeOp)
	default:
		panic(fmt.Sprintf("aio: send called in state %s", w.state))
	}
}

func (w *AbstractWrite) onResult(rc objectstore.ResultCode) {
	if w.shouldComplete(rc) {
		w.complete(rc)
	}
}

// shouldComplete advances the write's state machine given the result
// of the operation most recently submitted for the current state.
func (w *AbstractWrite) shouldComplete(rc objectstore.ResultCode) bool {
	switch w.state {
	case StateCheckExists:
		w.Img.ObserveCheckExists(w.OID)

		if rc < 0 && rc != objectstore.ErrNotFound {
			return true
		}
		if rc == objectstore.ErrNotFound {
			unlock := w.Img.LockSnapAndParent()
			w.state = StateCopyup
			w.readFromParent(w.objectImageExtents, w.onParentResult)
			unlock()
			return false
		}
		w.state = StateFinal
		if err := w.Send(); err != nil {
			w.log.Error("final write submission failed", logging.Fields{"request_id": w.ID, "oid": w.OID, "error": err.Error()})
		}
		return false

	case StateCopyup:
		w.state = StateFinal
		if rc < 0 {
			return w.shouldComplete(rc)
		}
		w.sendCopyup()
		return false

	case StateFinal:
		return true

	default:
		panic(fmt.Sprintf("aio: should_complete called in unknown state %d", int(w.state)))
	}
}

func (w *AbstractWrite) onParentResult(prc objectstore.ResultCode) {
	w.releaseParentCompletion()
	if w.shouldComplete(prc) {
		w.complete(prc)
	}
}

// sendCopyup submits one operate bundle whose first entry promotes the
// parent bytes into this object, followed by the concrete write's own
// operations.
func (w *AbstractWrite) sendCopyup() {
	parentBytes := append([]byte(nil), w.parentBuf[:w.parentOverlap]...)

	follow := w.writeOp
	if w.addCopyupOps != nil {
		follow = w.addCopyupOps()
	}
	bundle := follow.WithCopyup(parentBytes)

	client := w.Img.MdCtx.Dup()
	completion := objectstore.NewCompletion(w.onResult)
	if err := client.AioOperate(w.OID, completion, bundle); err != nil {
		w.log.Error("copyup submission failed", logging.Fields{"request_id": w.ID, "oid": w.OID, "error": err.Error()})
	}
	w.Img.NoteCopiedUp(w.OID)
}

func (w *AbstractWrite) complete(rc objectstore.ResultCode) {
	w.releaseParentCompletion()
	if w.onComplete != nil {
		w.onComplete(rc)
	}
}
