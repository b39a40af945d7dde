package fee

import "fmt"

// stepOutcome is returned by every step function to tell advance what to do
// next.
type stepOutcome uint8

const (
	// stepWaiting means a driver operation was issued; the scheduler must
	// wait for JobEndNotification/JobErrorNotification before continuing.
	stepWaiting stepOutcome = iota
	// stepContinue means the step was pure logic (no driver operation);
	// advance should call step again immediately.
	stepContinue
	// stepJobDone means the job is finished; lastResult already holds the
	// outcome.
	stepJobDone
)

// advance runs the scheduler until it either issues a driver operation and
// must wait, or the job finishes.
func (e *Engine) advance() {
	for {
		switch e.step() {
		case stepContinue:
			continue
		case stepWaiting:
			return
		case stepJobDone:
			e.status = StatusIdle
			e.job.current = jobDone
			return
		}
	}
}

// step runs exactly one tagged step of the current job.
func (e *Engine) step() stepOutcome {
	switch e.job.current {
	case jobDone:
		e.lastResult = JobResultOK
		return stepJobDone

	case jobRead:
		return e.stepRead()

	case jobWrite:
		return e.stepWrite()
	case jobWriteData:
		return e.stepWriteData()
	case jobWriteUnalignedData:
		return e.stepWriteUnalignedData()
	case jobWriteValidate:
		return e.stepWriteValidate()
	case jobWriteDone:
		return e.stepWriteDone()

	case jobInvalBlock:
		return e.stepInvalBlock()
	case jobInvalBlockDone:
		return e.stepInvalBlockDone()

	case jobEraseImmediate:
		return e.stepEraseImmediate()

	case jobIntScan:
		return e.stepIntScan()
	case jobIntScanClrHdrParse:
		return e.stepIntScanClrHdrParse()
	case jobIntScanClr:
		return e.stepIntScanClr()
	case jobIntScanClrFmt:
		return e.stepIntScanClrFmt()
	case jobIntScanClrFmtDone:
		return e.stepIntScanClrFmtDone()
	case jobIntScanBlockHdrParse:
		return e.stepIntScanBlockHdrParse()

	case jobIntSwapBlock:
		return e.stepIntSwapBlock()
	case jobIntSwapClrFmt:
		return e.stepIntSwapClrFmt()
	case jobIntSwapDataRead:
		return e.stepIntSwapDataRead()
	case jobIntSwapDataWrite:
		return e.stepIntSwapDataWrite()
	case jobIntSwapBlockValidate:
		return e.stepIntSwapBlockValidate()
	case jobIntSwapClrVldDone:
		return e.stepIntSwapClrVldDone()

	default:
		panic(fmt.Sprintf("fee: unhandled job tag %v", e.job.current))
	}
}

// MainFunction polls the driver for the outcome of any in-flight operation
// and advances the scheduler accordingly. It is a no-op while idle.
func (e *Engine) MainFunction() {
	if e.status != StatusBusy {
		return
	}
	switch e.driver.JobResult() {
	case JobResultPending:
		return
	case JobResultOK:
		e.JobEndNotification()
	default:
		e.JobErrorNotification()
	}
}

// JobEndNotification tells the engine the driver operation it most recently
// issued completed successfully. Call this from driver glue that delivers
// true asynchronous completion callbacks, instead of polling via
// MainFunction.
func (e *Engine) JobEndNotification() {
	if e.status != StatusBusy {
		return
	}
	e.advance()
}

// JobErrorNotification tells the engine the driver operation it most
// recently issued failed or was canceled. Per §4.7, scan and swap are
// rebuild-class: a header read failure during either pipeline is absorbed
// (treated as HEADER_INVALID, latching a future swap) and a data-copy
// failure mid-swap demotes only the block being copied, so both pipelines
// keep making progress on their own and the failure never reaches the
// caller. Every other tag is operational-class: the in-flight request is
// aborted unconditionally and the engine does not retry.
func (e *Engine) JobErrorNotification() {
	if e.status != StatusBusy {
		return
	}

	switch e.job.current {
	case jobIntScanClrHdrParse:
		e.log.Warn("fee: cluster header read failed, treating as invalid", "err", ErrCorruptLayout, "group", e.job.group)
		e.job.scanForceSwap = true
		e.settle(e.continueClusterScan(e.job.group))

	case jobIntScanBlockHdrParse:
		e.log.Warn("fee: block header read failed, forcing swap", "err", ErrCorruptLayout, "group", e.job.group)
		group := e.job.group
		e.job.scanForceSwap = true
		e.finishGroupScan(group, e.job.scanHeaderCursor)
		e.settle(e.afterGroupScan(group))

	case jobIntSwapDataRead, jobIntSwapDataWrite, jobIntSwapBlockValidate:
		e.log.Warn("fee: swap data copy failed, demoting block", "err", ErrHardware, "block", e.cfg.Blocks[e.job.blockIndex].Number)
		e.demoteSwapBlock()
		e.job.current = jobIntSwapBlock
		e.settle(stepContinue)

	default:
		e.log.Error("fee: driver job failed", "job", e.job.current.String())
		e.lastResult = JobResultFailed
		e.status = StatusIdle
		e.job.current = jobDone
	}
}

// settle applies a step outcome produced outside the normal advance() loop:
// the error-recovery paths above resume mid-pipeline rather than from a
// step() dispatch, but the outcome means the same thing either way.
func (e *Engine) settle(outcome stepOutcome) {
	switch outcome {
	case stepContinue:
		e.advance()
	case stepJobDone:
		e.status = StatusIdle
		e.job.current = jobDone
	case stepWaiting:
		// A driver op was already issued; wait for its callback.
	}
}

// demoteSwapBlock abandons the in-flight copy of the block INT_SWAP_BLOCK
// most recently started: its source record is left INCONSISTENT_COPY and
// no data is programmed into the target cluster, per §4.7.
func (e *Engine) demoteSwapBlock() {
	if idx := e.job.swapPendingBlockIndex; idx >= 0 {
		e.blocks[idx].status = BlockStatusInconsistentCopy
		e.job.swapPendingBlockIndex = -1
	}
}

// issueRead asks the driver to read len(buf) bytes at addr, advancing to
// next on completion.
func (e *Engine) issueRead(addr uint32, buf []byte, next currentJob) stepOutcome {
	if err := e.driver.Read(addr, buf); err != nil {
		return e.abortWithError(err)
	}
	e.job.current = next
	return stepWaiting
}

// issueWrite asks the driver to program buf at addr, advancing to next on
// completion.
func (e *Engine) issueWrite(addr uint32, buf []byte, next currentJob) stepOutcome {
	if err := e.driver.Write(addr, buf); err != nil {
		return e.abortWithError(err)
	}
	e.job.current = next
	return stepWaiting
}

// issueErase asks the driver to erase length bytes at addr, advancing to
// next on completion.
func (e *Engine) issueErase(addr, length uint32, next currentJob) stepOutcome {
	if err := e.driver.Erase(addr, length); err != nil {
		return e.abortWithError(err)
	}
	e.job.current = next
	return stepWaiting
}

// abortWithError synchronously fails the in-flight job: the driver rejected
// the request outright rather than accepting and later failing it, which
// the engine treats identically.
func (e *Engine) abortWithError(err error) stepOutcome {
	e.log.Error("fee: driver rejected request", "err", err)
	e.lastResult = JobResultFailed
	return stepJobDone
}

// beginSwap starts the swap pipeline for group: erase the next cluster in
// the rotation and format it. originalJob is the tag to resume once the
// swap completes, so the request that triggered it (WRITE, ERASE_IMMEDIATE,
// or INT_SCAN recovering from a corrupt header) can retry against the fresh
// cluster.
func (e *Engine) beginSwap(group int, originalJob currentJob) stepOutcome {
	e.groups[group].forceSwapLatched = false

	gc := e.cfg.Groups[group]
	src := e.groups[group].activeClusterIndex
	dst := (src + 1) % len(gc.Clusters)

	e.job.group = group
	e.job.swapSrcClusterIndex = src
	e.job.swapDstClusterIndex = dst
	e.job.swapBlockCursor = 0
	e.job.swapPendingBlockIndex = -1
	e.job.swapOriginalJob = originalJob
	e.job.swapClusterID = e.groups[group].activeClusterID + 1

	cl := gc.Clusters[dst]
	e.log.Info("fee: swapping cluster group", "group", group, "from", src, "to", dst)
	return e.issueErase(cl.StartAddr, cl.Length, jobIntSwapClrFmt)
}
