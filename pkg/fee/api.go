package fee

import "fmt"

// GetStatus reports the engine's current state-machine position. StatusBusy
// covers every user-issued job; StatusBusyInternal covers the scan and swap
// pipelines, even when a swap runs as a digression inside a write.
func (e *Engine) GetStatus() Status {
	if e.status != StatusBusy {
		return e.status
	}
	if e.job.current.isInternal() {
		return StatusBusyInternal
	}
	return StatusBusy
}

// requireIdle is the shared busy/uninitialized guard every request API
// applies before touching engine state.
func (e *Engine) requireIdle() error {
	switch e.GetStatus() {
	case StatusUninit:
		return ErrNotInitialized
	case StatusIdle:
		return nil
	default:
		return ErrBusy
	}
}

// Init scans every configured cluster group to recover the runtime state
// (active cluster, block classifications, cursors) that the request APIs
// depend on. It must be called exactly once, before any other request.
func (e *Engine) Init() error {
	if e.status != StatusUninit {
		return fmt.Errorf("%w: already initialized", ErrInvalidArgument)
	}

	e.job.reset()
	e.job.scanGroup = 0
	e.status = StatusBusy
	e.lastResult = JobResultPending
	e.job.current = jobIntScan
	e.advance()
	return nil
}

// Read copies length bytes starting at offset out of blockNumber's current
// payload into buf. The request is accepted synchronously; its outcome is
// observed through [Engine.GetJobResult] once the engine returns to idle.
//
// If the block's cached classification already rules out a successful read
// (never written, invalidated, or inconsistent), no flash access occurs and
// the result is available immediately.
func (e *Engine) Read(blockNumber uint16, offset uint16, buf []byte) error {
	if err := e.requireIdle(); err != nil {
		return err
	}

	idx, ok := e.cfg.lookup(blockNumber)
	if !ok {
		return ErrUnknownBlock
	}
	bc := e.cfg.Blocks[idx]
	if int(offset)+len(buf) > int(bc.Size) {
		return fmt.Errorf("%w: offset %d + length %d exceeds block size %d", ErrInvalidArgument, offset, len(buf), bc.Size)
	}

	e.job.reset()
	e.job.blockIndex = idx
	e.job.offset = offset
	e.job.userBuf = buf
	e.status = StatusBusy
	e.lastResult = JobResultPending
	e.job.current = jobRead
	e.advance()
	return nil
}

// Write replaces blockNumber's payload with data, which must be exactly the
// configured block size. If the active cluster has no room, a swap runs
// first (visible as StatusBusyInternal) before the write proceeds.
func (e *Engine) Write(blockNumber uint16, data []byte) error {
	if err := e.requireIdle(); err != nil {
		return err
	}

	idx, ok := e.cfg.lookup(blockNumber)
	if !ok {
		return ErrUnknownBlock
	}
	bc := e.cfg.Blocks[idx]
	if len(data) != int(bc.Size) {
		return fmt.Errorf("%w: payload length %d != block size %d", ErrInvalidArgument, len(data), bc.Size)
	}

	e.job.reset()
	e.job.blockIndex = idx
	e.job.userBuf = data
	e.status = StatusBusy
	e.lastResult = JobResultPending
	e.job.current = jobWrite
	e.advance()
	return nil
}

// InvalidateBlock marks blockNumber unreadable by programming its
// INVALIDATED flag. A block that is already INVALID or has never been
// written has nothing to program on flash; InvalidateBlock marks it INVALID
// and completes synchronously without touching the driver.
func (e *Engine) InvalidateBlock(blockNumber uint16) error {
	if err := e.requireIdle(); err != nil {
		return err
	}

	idx, ok := e.cfg.lookup(blockNumber)
	if !ok {
		return ErrUnknownBlock
	}

	switch e.blocks[idx].status {
	case BlockStatusNeverWritten, BlockStatusInvalid:
		e.blocks[idx].status = BlockStatusInvalid
		e.lastResult = JobResultOK
		return nil
	}

	e.job.reset()
	e.job.blockIndex = idx
	e.status = StatusBusy
	e.lastResult = JobResultPending
	e.job.current = jobInvalBlock
	e.advance()
	return nil
}

// EraseImmediateBlock lets an immediate block's upcoming Write land without
// triggering a swap of its own: if the active cluster's reserved area
// can't yet accommodate the block, the swap runs now instead of during the
// write that actually matters. It programs nothing and does not change the
// block's classification; blockNumber must be configured with
// BlockConfig.Immediate.
func (e *Engine) EraseImmediateBlock(blockNumber uint16) error {
	if err := e.requireIdle(); err != nil {
		return err
	}

	idx, ok := e.cfg.lookup(blockNumber)
	if !ok {
		return ErrUnknownBlock
	}
	if !e.cfg.Blocks[idx].Immediate {
		return fmt.Errorf("%w: block %d is not configured as immediate", ErrInvalidArgument, blockNumber)
	}

	e.job.reset()
	e.job.blockIndex = idx
	e.status = StatusBusy
	e.lastResult = JobResultPending
	e.job.current = jobEraseImmediate
	e.advance()
	return nil
}
