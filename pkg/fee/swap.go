package fee

// stepIntSwapClrFmt programs the target cluster's header once its erase
// completes. The header is written unvalidated: the cluster stays
// INCONSISTENT until every surviving block has been copied and
// INT_SWAP_CLR_VLD_DONE programs the VALIDATED flag, so an interruption
// anywhere during the copy leaves the old cluster as the one a rescan
// trusts.
func (e *Engine) stepIntSwapClrFmt() stepOutcome {
	group := e.job.group
	cl := e.cfg.Groups[group].Clusters[e.job.swapDstClusterIndex]

	hdr := serializeClusterHeader(e.job.swapClusterID, cl.StartAddr, cl.Length)
	e.job.swapDstHeaderCursor = cl.StartAddr + ClusterOverhead
	e.job.swapDstDataCursor = cl.StartAddr + cl.Length

	return e.issueWrite(cl.StartAddr, hdr, jobIntSwapBlock)
}

// stepIntSwapBlock finalizes the previous block's copy (if any), then finds
// the next candidate belonging to this group in catalog order and starts
// copying it; once no candidates remain, it validates the target cluster.
//
// VALID blocks get a full header+data copy. INCONSISTENT and
// INCONSISTENT_COPY blocks have no data worth trusting, so they only get a
// header carried forward with data_addr = 0: the block survives the swap as
// INCONSISTENT (recoverable by a future write) instead of silently
// disappearing and leaving stale runtime state behind.
func (e *Engine) stepIntSwapBlock() stepOutcome {
	group := e.job.group

	if e.job.swapPendingBlockIndex >= 0 {
		idx := e.job.swapPendingBlockIndex
		status := BlockStatusValid
		if e.job.swapPendingHeaderOnly {
			status = BlockStatusInconsistent
		}
		e.blocks[idx] = blockRuntime{
			status:      status,
			dataAddr:    e.job.swapPendingDataAddr,
			invalidAddr: e.job.swapBlockHeaderAddr + BlockOverhead - VirtualPageSize,
		}
		e.job.swapPendingBlockIndex = -1
		e.job.swapPendingHeaderOnly = false
	}

	for i := e.job.swapBlockCursor; i < len(e.cfg.Blocks); i++ {
		bc := e.cfg.Blocks[i]
		if bc.ClusterGroup != group {
			continue
		}
		switch e.blocks[i].status {
		case BlockStatusValid, BlockStatusInconsistent, BlockStatusInconsistentCopy:
		default:
			continue
		}

		e.job.swapBlockCursor = i + 1
		e.job.blockIndex = i

		headerAddr := e.job.swapDstHeaderCursor
		e.job.swapBlockHeaderAddr = headerAddr
		e.job.swapPendingBlockIndex = i
		e.job.swapDstHeaderCursor += BlockOverhead

		if e.blocks[i].status != BlockStatusValid {
			e.job.swapPendingHeaderOnly = true
			e.job.swapPendingDataAddr = 0
			hdr := serializeBlockHeader(bc.Number, bc.Size, 0, bc.Immediate)
			return e.issueWrite(headerAddr, hdr, jobIntSwapBlock)
		}

		aligned := alignToPage(uint32(bc.Size))
		dataAddr := e.job.swapDstDataCursor - aligned

		e.job.swapPendingHeaderOnly = false
		e.job.swapPendingDataAddr = dataAddr
		e.job.swapSrcDataAddr = e.blocks[i].dataAddr
		e.job.swapDstDataAddr = dataAddr
		e.job.swapBytesRemaining = aligned
		e.job.swapDstDataCursor = dataAddr

		hdr := serializeBlockHeader(bc.Number, bc.Size, dataAddr, bc.Immediate)
		return e.issueWrite(headerAddr, hdr, jobIntSwapDataRead)
	}

	e.job.swapBlockCursor = len(e.cfg.Blocks)
	cl := e.cfg.Groups[group].Clusters[e.job.swapDstClusterIndex]
	return e.issueWrite(cl.StartAddr+clrOffValidPage, serializeFlagPage(ValidatedValue), jobIntSwapClrVldDone)
}

// stepIntSwapDataRead reads the next chunk of a copied block's payload out
// of the source cluster.
func (e *Engine) stepIntSwapDataRead() stepOutcome {
	chunk := min(e.job.swapBytesRemaining, uint32(DataBufferSize))
	e.job.swapChunkLen = uint16(chunk)
	return e.issueRead(e.job.swapSrcDataAddr, e.job.buf[:chunk], jobIntSwapDataWrite)
}

// stepIntSwapDataWrite programs the chunk just read into the target
// cluster, then either reads the next chunk or, once exhausted, validates
// this block's header.
func (e *Engine) stepIntSwapDataWrite() stepOutcome {
	chunk := uint32(e.job.swapChunkLen)
	addr := e.job.swapDstDataAddr

	e.job.swapSrcDataAddr += chunk
	e.job.swapDstDataAddr += chunk
	e.job.swapBytesRemaining -= chunk

	next := jobIntSwapDataRead
	if e.job.swapBytesRemaining == 0 {
		next = jobIntSwapBlockValidate
	}
	return e.issueWrite(addr, e.job.buf[:chunk], next)
}

// stepIntSwapBlockValidate programs the VALIDATED flag on the copied
// block's new header, then returns to look for the next candidate.
func (e *Engine) stepIntSwapBlockValidate() stepOutcome {
	addr := e.job.swapBlockHeaderAddr + blkOffValidPage
	return e.issueWrite(addr, serializeFlagPage(ValidatedValue), jobIntSwapBlock)
}

// stepIntSwapClrVldDone commits the target cluster as active and resumes
// whatever request triggered the swap.
func (e *Engine) stepIntSwapClrVldDone() stepOutcome {
	group := e.job.group
	e.groups[group] = groupRuntime{
		activeClusterIndex: e.job.swapDstClusterIndex,
		activeClusterID:    e.job.swapClusterID,
		headerCursor:       e.job.swapDstHeaderCursor,
		dataCursor:         e.job.swapDstDataCursor,
	}
	e.job.current = e.job.swapOriginalJob
	return stepContinue
}
