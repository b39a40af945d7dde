// Package flashio provides reference [fee.Driver] implementations: an
// in-memory (optionally file-mirrored) driver for simulation and testing,
// and a fault-injecting wrapper for exercising the engine's recovery paths.
package flashio

import (
	"bytes"
	"fmt"
	"os"

	atomicfile "github.com/natefinch/atomic"

	"github.com/flagchip/feerom/pkg/fee"
)

// MemDriver is a reference [fee.Driver] backed by an in-memory byte slice.
//
// Every accepted Erase/Write/Read completes immediately unless BusyCycles is
// set, in which case JobResult reports [fee.JobResultPending] for that many
// polls first — useful for exercising the engine's asynchronous
// MainFunction polling path rather than always taking the synchronous
// shortcut a unit test driver would.
//
// MemDriver is not safe for concurrent use.
type MemDriver struct {
	mem []byte

	mirrorPath string

	// BusyCycles is the number of JobResult polls that report
	// JobResultPending before an accepted operation reports its real
	// outcome. Zero means every operation completes on the first poll.
	BusyCycles int

	cyclesLeft int
	result     fee.JobResult
}

// NewMemDriver returns a MemDriver over a freshly erased (all [fee.ErasedValue])
// byte slice of the given size.
func NewMemDriver(size uint32) *MemDriver {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = fee.ErasedValue
	}
	return &MemDriver{mem: mem, result: fee.JobResultOK}
}

// OpenMemDriverFile loads a MemDriver's backing image from path, creating it
// (freshly erased, of the given size) if it does not already exist. Mutations
// are not persisted to path automatically; call [MemDriver.Sync] after the
// engine returns to idle to durably flush the current image.
func OpenMemDriverFile(path string, size uint32) (*MemDriver, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if uint32(len(data)) != size {
			return nil, fmt.Errorf("flashio: existing image %q is %d bytes, want %d", path, len(data), size)
		}
		d := &MemDriver{mem: data, mirrorPath: path, result: fee.JobResultOK}
		return d, nil
	case os.IsNotExist(err):
		d := NewMemDriver(size)
		d.mirrorPath = path
		if err := d.Sync(); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("flashio: read image %q: %w", path, err)
	}
}

// Sync durably writes the current in-memory image to the mirror file
// configured via [OpenMemDriverFile]. It is a no-op if the driver was
// constructed with [NewMemDriver] (no mirror path).
//
// Sync uses a temp-file-then-rename so a crash mid-write never leaves a
// torn image on disk; it trades real flash semantics (torn writes at the
// page level) for a coarser, whole-image durability point, which is enough
// for simulating "process restart" rather than "power loss mid-program".
//
// After the rename, Sync fsyncs the parent directory directly (bypassing
// the atomic package, which does not do this itself) so the rename entry
// is durable too, not just the file's contents.
func (d *MemDriver) Sync() error {
	if d.mirrorPath == "" {
		return nil
	}
	if err := atomicfile.WriteFile(d.mirrorPath, bytes.NewReader(d.mem)); err != nil {
		return err
	}
	return fsyncParentDir(d.mirrorPath)
}

// Snapshot returns a copy of the current backing image.
func (d *MemDriver) Snapshot() []byte {
	out := make([]byte, len(d.mem))
	copy(out, d.mem)
	return out
}

func (d *MemDriver) Erase(addr, length uint32) error {
	if err := d.bounds(addr, length); err != nil {
		return err
	}
	for i := addr; i < addr+length; i++ {
		d.mem[i] = fee.ErasedValue
	}
	return d.accept()
}

func (d *MemDriver) Write(addr uint32, buf []byte) error {
	if err := d.bounds(addr, uint32(len(buf))); err != nil {
		return err
	}
	copy(d.mem[addr:], buf)
	return d.accept()
}

func (d *MemDriver) Read(addr uint32, buf []byte) error {
	if err := d.bounds(addr, uint32(len(buf))); err != nil {
		return err
	}
	copy(buf, d.mem[addr:])
	return d.accept()
}

func (d *MemDriver) bounds(addr, length uint32) error {
	if uint64(addr)+uint64(length) > uint64(len(d.mem)) {
		return fmt.Errorf("flashio: access [%d, %d) out of bounds (image is %d bytes)", addr, addr+length, len(d.mem))
	}
	return nil
}

func (d *MemDriver) accept() error {
	d.cyclesLeft = d.BusyCycles
	d.result = fee.JobResultOK
	return nil
}

// JobResult reports JobResultPending until BusyCycles polls have elapsed
// since the last accepted operation, then the operation's real outcome.
func (d *MemDriver) JobResult() fee.JobResult {
	if d.cyclesLeft > 0 {
		d.cyclesLeft--
		return fee.JobResultPending
	}
	return d.result
}

var _ fee.Driver = (*MemDriver)(nil)
