package fee

// stepIntScan drives the per-group scan loop: once every configured group
// has been processed, the job is done. Each iteration reads the first
// cluster header of the next unscanned group.
func (e *Engine) stepIntScan() stepOutcome {
	group := e.job.scanGroup
	if group >= len(e.cfg.Groups) {
		e.lastResult = JobResultOK
		return stepJobDone
	}

	e.job.group = group
	e.job.scanCluster = 0
	e.job.scanBestIndex[group] = -1
	e.job.scanForceSwap = false

	cl := e.cfg.Groups[group].Clusters[0]
	return e.issueRead(cl.StartAddr, e.job.buf[:ClusterOverhead], jobIntScanClrHdrParse)
}

// stepIntScanClrHdrParse classifies the cluster header just read, tracking
// the highest-ID VALID candidate seen, then reads the next cluster in the
// group or moves on to decide the outcome.
func (e *Engine) stepIntScanClrHdrParse() stepOutcome {
	group := e.job.group
	status, decoded := deserializeClusterHeader(e.job.buf[:ClusterOverhead])
	if status == ClusterStatusValid {
		if e.job.scanBestIndex[group] == -1 || decoded.ClusterID > e.job.scanBestID[group] {
			e.job.scanBestIndex[group] = e.job.scanCluster
			e.job.scanBestID[group] = decoded.ClusterID
		}
	}

	return e.continueClusterScan(group)
}

// continueClusterScan advances to the next cluster in group's rotation, or
// moves on to the block header walk once every cluster has been classified.
// Shared by the normal path above and by JobErrorNotification's recovery
// from a failed cluster header read, which has nothing to classify and
// simply continues the rotation.
func (e *Engine) continueClusterScan(group int) stepOutcome {
	e.job.scanCluster++
	clusters := e.cfg.Groups[group].Clusters
	if e.job.scanCluster < len(clusters) {
		cl := clusters[e.job.scanCluster]
		return e.issueRead(cl.StartAddr, e.job.buf[:ClusterOverhead], jobIntScanClrHdrParse)
	}

	e.job.current = jobIntScanClr
	return stepContinue
}

// stepIntScanClr decides what to do once every cluster in the group has
// been classified: walk the winning cluster's block headers, or, if no
// cluster classified VALID, reformat cluster 0 from scratch.
func (e *Engine) stepIntScanClr() stepOutcome {
	group := e.job.group
	winIdx := e.job.scanBestIndex[group]

	if winIdx == -1 {
		e.log.Warn("fee: no valid cluster found, reformatting", "group", group)
		cl := e.cfg.Groups[group].Clusters[0]
		return e.issueErase(cl.StartAddr, cl.Length, jobIntScanClrFmt)
	}

	cl := e.cfg.Groups[group].Clusters[winIdx]
	e.job.scanHeaderCursor = cl.StartAddr + ClusterOverhead
	e.job.scanMinDataAddr = cl.StartAddr + cl.Length
	return e.issueRead(e.job.scanHeaderCursor, e.job.buf[:BlockOverhead], jobIntScanBlockHdrParse)
}

// stepIntScanClrFmt programs a fresh cluster-0 header (id 1), pre-validated,
// once its erase completes.
func (e *Engine) stepIntScanClrFmt() stepOutcome {
	cl := e.cfg.Groups[e.job.group].Clusters[0]
	hdr := serializeClusterHeader(1, cl.StartAddr, cl.Length)
	copy(hdr[clrOffValidPage:clrOffInvalidPage], serializeFlagPage(ValidatedValue))
	return e.issueWrite(cl.StartAddr, hdr, jobIntScanClrFmtDone)
}

// stepIntScanClrFmtDone commits the freshly formatted cluster as the
// group's active cluster and moves on to the next group.
func (e *Engine) stepIntScanClrFmtDone() stepOutcome {
	group := e.job.group
	cl := e.cfg.Groups[group].Clusters[0]
	e.groups[group] = groupRuntime{
		activeClusterIndex: 0,
		activeClusterID:    1,
		headerCursor:        cl.StartAddr + ClusterOverhead,
		dataCursor:          cl.StartAddr + cl.Length,
	}
	e.job.scanGroup++
	e.job.current = jobIntScan
	return stepContinue
}

// stepIntScanBlockHdrParse classifies the block header just read. A blank
// header marks the normal end of the log; a corrupt (non-blank, invalid)
// header also ends the walk but additionally forces a swap of this group,
// since the cluster can no longer be trusted past that point. Anything else
// is cached by block number and the walk continues.
func (e *Engine) stepIntScanBlockHdrParse() stepOutcome {
	group := e.job.group
	status, decoded := deserializeBlockHeader(e.job.buf[:BlockOverhead])

	switch status {
	case BlockStatusHeaderBlank:
		e.finishGroupScan(group, e.job.scanHeaderCursor)
		return e.afterGroupScan(group)

	case BlockStatusHeaderInvalid:
		e.job.scanForceSwap = true
		e.finishGroupScan(group, e.job.scanHeaderCursor)
		return e.afterGroupScan(group)

	default:
		// Accepted iff the block is known to the catalog, its stored
		// geometry (group, size, immediate) matches config, and its
		// data_addr lies inside the region still available for data at
		// the time this header was written. A header that round-trips its
		// checksum but fails any of those checks is still geometry we
		// can't trust, so it forces a future swap without aborting the
		// walk: later headers in this cluster may still be genuine.
		idx, ok := e.cfg.lookup(decoded.BlockNumber)
		accepted := false
		if ok {
			bc := e.cfg.Blocks[idx]
			aligned := alignToPage(uint32(bc.Size))
			lowerBound := e.job.scanHeaderCursor + 2*BlockOverhead
			upperBound := e.job.scanMinDataAddr - aligned
			accepted = bc.ClusterGroup == group &&
				bc.Size == decoded.Length &&
				bc.Immediate == decoded.Immediate &&
				decoded.DataAddr >= lowerBound && decoded.DataAddr <= upperBound
		}

		if accepted {
			if decoded.DataAddr < e.job.scanMinDataAddr {
				e.job.scanMinDataAddr = decoded.DataAddr
			}
			newStatus := status
			if status == BlockStatusInconsistent && e.blocks[idx].status == BlockStatusValid {
				newStatus = BlockStatusInconsistentCopy
			}
			e.blocks[idx] = blockRuntime{
				status:      newStatus,
				dataAddr:    decoded.DataAddr,
				invalidAddr: e.job.scanHeaderCursor + BlockOverhead - VirtualPageSize,
			}
		} else {
			e.job.scanForceSwap = true
		}

		e.job.scanHeaderCursor += BlockOverhead
		return e.issueRead(e.job.scanHeaderCursor, e.job.buf[:BlockOverhead], jobIntScanBlockHdrParse)
	}
}

// finishGroupScan commits the winning cluster and the cursors derived from
// the header walk as the group's runtime state.
func (e *Engine) finishGroupScan(group int, headerCursor uint32) {
	winIdx := e.job.scanBestIndex[group]
	e.groups[group] = groupRuntime{
		activeClusterIndex: winIdx,
		activeClusterID:    e.job.scanBestID[group],
		headerCursor:       headerCursor,
		dataCursor:         e.job.scanMinDataAddr,
	}
}

// afterGroupScan moves on to the next group, triggering a swap first if the
// header walk found a corrupt header it can't recover from in place.
func (e *Engine) afterGroupScan(group int) stepOutcome {
	e.job.scanGroup++
	if e.job.scanForceSwap {
		e.job.scanForceSwap = false
		return e.beginSwap(group, jobIntScan)
	}
	e.job.current = jobIntScan
	return stepContinue
}
