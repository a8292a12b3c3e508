package aio

import (
	"github.com/blockforge/iopool/pkg/logging"
	"github.com/blockforge/iopool/pkg/objectstore"
)

// AioRead is a concrete read request: it submits a read against the
// object store and, on ENOENT, falls back to the parent image exactly
// once.
type AioRead struct {
	AioRequest

	triedParent bool
	sparse      bool

	extents objectstore.ExtentMap
	data    []byte
}

// NewAioRead constructs a read request. sparse selects
// AioSparseRead over AioRead at Send time.
func NewAioRead(
	img *objectstore.ImageCtx,
	oid string,
	objectNo, objectOff, objectLen, snapID uint64,
	hideEnoent, sparse bool,
	log *logging.Logger,
	onComplete func(objectstore.ResultCode),
) *AioRead {
	return &AioRead{
		AioRequest: newAioRequest(img, oid, objectNo, objectOff, objectLen, snapID, hideEnoent, log, onComplete),
		sparse:     sparse,
	}
}

// Data returns the bytes read once the request has completed
// successfully.
func (r *AioRead) Data() []byte { return r.data }

// TriedParent reports whether a parent fallback read was attempted.
func (r *AioRead) TriedParent() bool { return r.triedParent }

// Send submits the object-store read. Completion is asynchronous.
func (r *AioRead) Send() error {
	client := r.Img.DataCtx.Dup()
	client.SnapSetRead(r.SnapID)

	r.data = make([]byte, r.ObjectLen)
	completion := objectstore.NewCompletion(r.onResult)

	if r.sparse {
		return client.AioSparseRead(r.OID, completion, &r.extents, r.data, r.ObjectLen, r.ObjectOff)
	}
	return client.AioRead(r.OID, completion, r.data, r.ObjectLen, r.ObjectOff)
}

func (r *AioRead) onResult(rc objectstore.ResultCode) {
	if r.shouldComplete(rc) {
		r.complete(rc)
	}
}

// shouldComplete decides whether this result is final: on a first
// ENOENT with parent overlap, it issues a parent read and returns
// false; otherwise it returns true, and the caller completes.
func (r *AioRead) shouldComplete(rc objectstore.ResultCode) bool {
	if r.triedParent || rc != objectstore.ErrNotFound {
		return true
	}

	unlock := r.Img.LockSnapAndParent()
	defer unlock()

	if r.Img.Parent == nil {
		return true
	}

	imageExtents := objectstore.ExtentToFile(r.Img.Layout, r.ObjectNo, r.ObjectOff, r.ObjectLen)
	overlap, _ := r.Img.GetParentOverlap(r.SnapID)
	if overlap <= 0 {
		return true
	}

	pruned, objectOverlap := r.Img.PruneParentExtents(imageExtents, uint64(overlap))
	if objectOverlap == 0 {
		return true
	}

	r.triedParent = true
	r.readFromParent(pruned, r.onParentResult)
	return false
}

func (r *AioRead) onParentResult(prc objectstore.ResultCode) {
	r.releaseParentCompletion()
	if prc == objectstore.Success {
		copy(r.data, r.parentBuf[:r.parentOverlap])
	}
	if r.shouldComplete(prc) {
		r.complete(prc)
	}
}

func (r *AioRead) complete(rc objectstore.ResultCode) {
	r.releaseParentCompletion()

	effective := rc
	if rc == objectstore.ErrNotFound && r.HideEnoent {
		effective = objectstore.Success
		r.data = make([]byte, r.ObjectLen)
	}
	if r.onComplete != nil {
		r.onComplete(effective)
	}
}
