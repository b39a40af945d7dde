package fee

// stepRead issues the payload read for a block already classified VALID by
// a prior scan or write; NEVER_WRITTEN/INVALID/INCONSISTENT* blocks need no
// flash access at all, since their classification is already cached.
func (e *Engine) stepRead() stepOutcome {
	br := e.blocks[e.job.blockIndex]
	switch br.status {
	case BlockStatusValid:
		addr := br.dataAddr + uint32(e.job.offset)
		return e.issueRead(addr, e.job.userBuf, jobDone)
	case BlockStatusInvalid:
		e.lastResult = JobResultBlockInvalid
		return stepJobDone
	default:
		e.lastResult = JobResultBlockInconsistent
		return stepJobDone
	}
}

// stepWrite decides whether the active cluster has room for this block; if
// not (or a swap was explicitly latched via ForceSwapOnNextWrite) it
// triggers a swap and resumes here once the swap completes. Otherwise it
// programs the new header, unvalidated, and moves to WRITE_DATA.
func (e *Engine) stepWrite() stepOutcome {
	idx := e.job.blockIndex
	bc := e.cfg.Blocks[idx]
	group := bc.ClusterGroup

	if e.groups[group].forceSwapLatched || !e.reservedAreaWritable(group, bc, e.blocks[idx]) {
		if e.job.swapAttempted {
			e.log.Error("fee: block does not fit after swap", "block", bc.Number)
			e.lastResult = JobResultFailed
			return stepJobDone
		}
		e.job.swapAttempted = true
		return e.beginSwap(group, jobWrite)
	}

	g := &e.groups[group]
	aligned := alignToPage(uint32(bc.Size))
	headerAddr := g.headerCursor
	dataAddr := g.dataCursor - aligned
	invalidAddr := headerAddr + BlockOverhead - VirtualPageSize

	e.job.headerAddr = headerAddr
	e.job.dataAddr = dataAddr
	e.job.invalidAddr = invalidAddr
	e.job.alignedSize = aligned

	hdr := serializeBlockHeader(bc.Number, bc.Size, dataAddr, bc.Immediate)
	return e.issueWrite(headerAddr, hdr, jobWriteData)
}

// stepWriteData runs once the header write lands: the block becomes visible
// as INCONSISTENT immediately, so a crash before validation leaves it
// correctly classified, then programs the payload (in one shot if it's
// already page-aligned, otherwise an aligned prefix followed by a padded
// tail in WRITE_UNALIGNED_DATA).
func (e *Engine) stepWriteData() stepOutcome {
	idx := e.job.blockIndex
	bc := e.cfg.Blocks[idx]
	group := bc.ClusterGroup

	e.blocks[idx] = blockRuntime{status: BlockStatusInconsistent, dataAddr: e.job.dataAddr, invalidAddr: e.job.invalidAddr}
	e.groups[group].headerCursor += BlockOverhead
	e.groups[group].dataCursor -= e.job.alignedSize

	size := uint32(bc.Size)
	if size < VirtualPageSize {
		page := e.job.buf[:VirtualPageSize]
		n := copy(page, e.job.userBuf)
		for i := n; i < len(page); i++ {
			page[i] = ErasedValue
		}
		return e.issueWrite(e.job.dataAddr, page, jobWriteValidate)
	}

	prefixLen := (size / VirtualPageSize) * VirtualPageSize
	if prefixLen == size {
		return e.issueWrite(e.job.dataAddr, e.job.userBuf[:size], jobWriteValidate)
	}

	e.job.writtenTail = prefixLen
	return e.issueWrite(e.job.dataAddr, e.job.userBuf[:prefixLen], jobWriteUnalignedData)
}

// stepWriteUnalignedData programs the sub-page tail of a payload whose size
// isn't a multiple of VirtualPageSize, padded with erased bytes.
func (e *Engine) stepWriteUnalignedData() stepOutcome {
	page := e.job.buf[:VirtualPageSize]
	n := copy(page, e.job.userBuf[e.job.writtenTail:])
	for i := n; i < len(page); i++ {
		page[i] = ErasedValue
	}

	addr := e.job.dataAddr + e.job.writtenTail
	return e.issueWrite(addr, page, jobWriteValidate)
}

// stepWriteValidate programs the VALIDATED flag once the payload is fully
// on flash.
func (e *Engine) stepWriteValidate() stepOutcome {
	addr := e.job.invalidAddr - VirtualPageSize
	return e.issueWrite(addr, serializeFlagPage(ValidatedValue), jobWriteDone)
}

// stepWriteDone marks the block VALID in the runtime cache.
func (e *Engine) stepWriteDone() stepOutcome {
	idx := e.job.blockIndex
	e.blocks[idx].status = BlockStatusValid
	e.lastResult = JobResultOK
	return stepJobDone
}

// stepInvalBlock programs the INVALIDATED flag on the block's existing
// header; invalidation never allocates new space.
func (e *Engine) stepInvalBlock() stepOutcome {
	br := e.blocks[e.job.blockIndex]
	return e.issueWrite(br.invalidAddr, serializeFlagPage(InvalidatedValue), jobInvalBlockDone)
}

func (e *Engine) stepInvalBlockDone() stepOutcome {
	e.blocks[e.job.blockIndex].status = BlockStatusInvalid
	e.lastResult = JobResultOK
	return stepJobDone
}

// stepEraseImmediate checks whether this immediate block's active cluster
// still has reserved room for it. If not, it forces a swap now, so the real
// WRITE that the caller is about to issue is guaranteed to fit without one.
// If the area is already writable this is a no-op: ERASE_IMMEDIATE never
// allocates anything itself — WRITE does that, the same way it does for any
// other block, just permitted (per reservedAreaWritable) to use the
// reserved tail when the target is immediate. ERASE_IMMEDIATE exists only
// to let a caller move the cost of a swap to a convenient moment ahead of
// that write.
func (e *Engine) stepEraseImmediate() stepOutcome {
	idx := e.job.blockIndex
	bc := e.cfg.Blocks[idx]
	group := bc.ClusterGroup

	if e.groups[group].forceSwapLatched || !e.reservedAreaWritable(group, bc, e.blocks[idx]) {
		if e.job.swapAttempted {
			e.log.Error("fee: block does not fit after swap", "block", bc.Number)
			e.lastResult = JobResultFailed
			return stepJobDone
		}
		e.job.swapAttempted = true
		return e.beginSwap(group, jobEraseImmediate)
	}

	e.lastResult = JobResultOK
	return stepJobDone
}
