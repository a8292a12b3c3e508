package aio

import (
	"bytes"
	"testing"
	"time"

	"github.com/blockforge/iopool/pkg/objectstore"
)

func waitResult(t *testing.T, ch <-chan objectstore.ResultCode) objectstore.ResultCode {
	t.Helper()
	select {
	case rc := <-ch:
		return rc
	case <-time.After(time.Second):
		t.Fatalf("completion never fired")
		return 0
	}
}

// TestAioReadFallsBackToParent confirms a miss on the child object with
// positive parent overlap triggers exactly one parent read, and the
// user completion carries the parent bytes.
func TestAioReadFallsBackToParent(t *testing.T) {
	const snapID = 1
	layout := objectstore.Layout{ObjectSize: 8192}

	parentData := make([]byte, 8192)
	for i := range parentData {
		parentData[i] = byte(i)
	}

	parentClient := objectstore.NewFakeClient()
	parent := objectstore.NewImageCtx("parent", parentClient, parentClient, nil, layout, nil)
	parentClient.Put(parent.ObjectName(0), parentData)

	childClient := objectstore.NewFakeClient() // child object 0 is absent
	child := objectstore.NewImageCtx("child", childClient, childClient, parent, layout, nil)
	child.SetParentOverlap(snapID, 8192)

	done := make(chan objectstore.ResultCode, 1)
	req := NewAioRead(child, child.ObjectName(0), 0, 0, 4096, snapID, false, false, nil, func(rc objectstore.ResultCode) {
		done <- rc
	})

	if err := req.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}

	rc := waitResult(t, done)
	if rc != objectstore.Success {
		t.Fatalf("completion result = %v, want Success", rc)
	}
	if !req.TriedParent() {
		t.Fatalf("tried_parent = false, want true")
	}
	if !bytes.Equal(req.Data(), parentData[:4096]) {
		t.Fatalf("data mismatch: got %v, want %v", req.Data(), parentData[:4096])
	}
}

// TestAioReadNoParentOverlapSurfacesNotFound confirms overlap=0 means
// no parent call is made and the miss surfaces as-is.
func TestAioReadNoParentOverlapSurfacesNotFound(t *testing.T) {
	const snapID = 1
	layout := objectstore.Layout{ObjectSize: 8192}

	parentClient := objectstore.NewFakeClient()
	parent := objectstore.NewImageCtx("parent", parentClient, parentClient, nil, layout, nil)

	childClient := objectstore.NewFakeClient()
	child := objectstore.NewImageCtx("child", childClient, childClient, parent, layout, nil)
	child.SetParentOverlap(snapID, 0)

	done := make(chan objectstore.ResultCode, 1)
	req := NewAioRead(child, child.ObjectName(0), 0, 0, 4096, snapID, false, false, nil, func(rc objectstore.ResultCode) {
		done <- rc
	})

	if err := req.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}

	rc := waitResult(t, done)
	if rc != objectstore.ErrNotFound {
		t.Fatalf("completion result = %v, want ErrNotFound", rc)
	}
	if req.TriedParent() {
		t.Fatalf("tried_parent = true, want false (no overlap)")
	}
}

// TestAioReadHideEnoentZeroFills confirms a surfaced ENOENT becomes a
// zero-filled success when HideEnoent is set.
func TestAioReadHideEnoentZeroFills(t *testing.T) {
	const snapID = 1
	layout := objectstore.Layout{ObjectSize: 8192}

	client := objectstore.NewFakeClient()
	img := objectstore.NewImageCtx("solo", client, client, nil, layout, nil)

	done := make(chan objectstore.ResultCode, 1)
	req := NewAioRead(img, img.ObjectName(0), 0, 0, 4096, snapID, true, false, nil, func(rc objectstore.ResultCode) {
		done <- rc
	})

	if err := req.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}

	rc := waitResult(t, done)
	if rc != objectstore.Success {
		t.Fatalf("completion result = %v, want Success (hidden ENOENT)", rc)
	}
	want := make([]byte, 4096)
	if !bytes.Equal(req.Data(), want) {
		t.Fatalf("data not zero-filled: %v", req.Data())
	}
}

// TestAioReadSecondNotFoundDoesNotRetryParent confirms a second ENOENT
// after a parent attempt completes with ENOENT rather than looping.
func TestAioReadSecondNotFoundDoesNotRetryParent(t *testing.T) {
	const snapID = 1
	layout := objectstore.Layout{ObjectSize: 8192}

	parentClient := objectstore.NewFakeClient() // parent object also absent
	parent := objectstore.NewImageCtx("parent", parentClient, parentClient, nil, layout, nil)

	childClient := objectstore.NewFakeClient()
	child := objectstore.NewImageCtx("child", childClient, childClient, parent, layout, nil)
	child.SetParentOverlap(snapID, 8192)

	done := make(chan objectstore.ResultCode, 1)
	req := NewAioRead(child, child.ObjectName(0), 0, 0, 4096, snapID, false, false, nil, func(rc objectstore.ResultCode) {
		done <- rc
	})

	if err := req.Send(); err != nil {
		t.Fatalf("Send: %v", err)
	}

	rc := waitResult(t, done)
	if rc != objectstore.ErrNotFound {
		t.Fatalf("completion result = %v, want ErrNotFound", rc)
	}
	if !req.TriedParent() {
		t.Fatalf("tried_parent = false, want true")
	}
}
