package objectstore

import (
	"bytes"
	"io"
	"sync"

	"github.com/ipfs/go-cid"
	shell "github.com/ipfs/go-ipfs-api"

	"github.com/blockforge/iopool/pkg/logging"
)

// IPFSClient implements Client against an IPFS node via go-ipfs-api.
// IPFS itself only speaks content addresses, so IPFSClient keeps an
// oid -> CID index in memory: writing an object adds its new bytes to
// IPFS and records the resulting CID under that oid, the way a real
// rados object's name is stable across the writes that mutate its
// content.
//
// go-ipfs-api's Shell is synchronous; every method here wraps its call
// in a goroutine to present the async Client contract without the
// underlying HTTP client itself being async.
type IPFSClient struct {
	shell *shell.Shell
	log   *logging.Logger

	mu    sync.RWMutex
	index map[string]cid.Cid

	readSnap   uint64
	writeSeq   uint64
	writeSnaps []uint64
}

// NewIPFSClient dials the IPFS HTTP API at endpoint (e.g.
// "127.0.0.1:5001").
func NewIPFSClient(endpoint string, log *logging.Logger) *IPFSClient {
	if log == nil {
		log = logging.Nop()
	}
	return &IPFSClient{
		shell: shell.NewShell(endpoint),
		log:   log,
		index: make(map[string]cid.Cid),
	}
}

func (c *IPFSClient) resolve(oid string) (cid.Cid, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.index[oid]
	return id, ok
}

func (c *IPFSClient) store(oid string, data []byte) error {
	cidStr, err := c.shell.Add(bytes.NewReader(data))
	if err != nil {
		return err
	}
	id, err := cid.Decode(cidStr)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.index[oid] = id
	c.mu.Unlock()
	return nil
}

func (c *IPFSClient) fetch(oid string) ([]byte, ResultCode) {
	id, ok := c.resolve(oid)
	if !ok {
		return nil, ErrNotFound
	}
	reader, err := c.shell.Cat(id.String())
	if err != nil {
		c.log.Warn("ipfs cat failed", logging.Fields{"oid": oid, "cid": id.String(), "error": err.Error()})
		return nil, ErrIO
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, ErrIO
	}
	return data, Success
}

func (c *IPFSClient) AioRead(oid string, completion *Completion, buf []byte, length, off uint64) error {
	go func() {
		data, rc := c.fetch(oid)
		if !rc.Ok() {
			completion.Complete(rc)
			return
		}
		copyRange(buf, data, off, length)
		completion.Complete(Success)
	}()
	return nil
}

func (c *IPFSClient) AioSparseRead(oid string, completion *Completion, extents *ExtentMap, buf []byte, length, off uint64) error {
	go func() {
		data, rc := c.fetch(oid)
		if !rc.Ok() {
			completion.Complete(rc)
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

func (c *IPFSClient) AioOperate(oid string, completion *Completion, ops OpBundle) error {
	go func() {
		existing, rc := c.fetch(oid)
		exists := rc.Ok()
		result := Success

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
			if err := c.store(oid, existing); err != nil {
				c.log.Error("ipfs store failed", logging.Fields{"oid": oid, "error": err.Error()})
				completion.Complete(ErrIO)
				return
			}
		}
		completion.Complete(result)
	}()
	return nil
}

func (c *IPFSClient) SnapSetRead(snapID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readSnap = snapID
}

func (c *IPFSClient) SelfManagedSnapSetWriteCtx(seq uint64, snaps []uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeSeq = seq
	c.writeSnaps = append([]uint64(nil), snaps...)
}

func (c *IPFSClient) Dup() Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &IPFSClient{
		shell:      c.shell,
		log:        c.log,
		index:      c.index, // shared content index; only the snapshot context forks
		readSnap:   c.readSnap,
		writeSeq:   c.writeSeq,
		writeSnaps: append([]uint64(nil), c.writeSnaps...),
	}
}
