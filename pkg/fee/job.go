package fee

// Status is the engine's externally visible state machine position, as
// returned by [Engine.GetStatus].
type Status uint8

const (
	// StatusUninit means Init has not been called yet.
	StatusUninit Status = iota
	// StatusIdle means no job is in flight; a new request may be issued.
	StatusIdle
	// StatusBusy means a user-issued job (Read/Write/InvalidateBlock/
	// EraseImmediateBlock) is in flight.
	StatusBusy
	// StatusBusyInternal means the scheduler is running the scan or swap
	// pipeline on its own behalf. Write is rejected in this state even
	// though an idle engine would otherwise accept it (Open Question 2:
	// Write now applies Read's stricter busy rule).
	StatusBusyInternal
)

func (s Status) String() string {
	switch s {
	case StatusUninit:
		return "UNINIT"
	case StatusIdle:
		return "IDLE"
	case StatusBusy:
		return "BUSY"
	case StatusBusyInternal:
		return "BUSY_INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// currentJob tags every step of the scheduler's state machine. A tag names
// the step to run once the driver operation issued under the *previous*
// tag completes (or, for the handful of pure-logic tags, the step to run
// immediately). jobDone means the job is finished.
type currentJob uint8

const (
	jobDone currentJob = iota

	jobRead

	jobWrite
	jobWriteData
	jobWriteUnalignedData
	jobWriteValidate
	jobWriteDone

	jobInvalBlock
	jobInvalBlockDone

	jobEraseImmediate

	jobIntScan
	jobIntScanClrHdrParse
	jobIntScanClr
	jobIntScanClrFmt
	jobIntScanClrFmtDone
	jobIntScanBlockHdrParse

	jobIntSwapBlock
	jobIntSwapClrFmt
	jobIntSwapDataRead
	jobIntSwapDataWrite
	jobIntSwapBlockValidate
	jobIntSwapClrVldDone
)

func (j currentJob) String() string {
	switch j {
	case jobDone:
		return "DONE"
	case jobRead:
		return "READ"
	case jobWrite:
		return "WRITE"
	case jobWriteData:
		return "WRITE_DATA"
	case jobWriteUnalignedData:
		return "WRITE_UNALIGNED_DATA"
	case jobWriteValidate:
		return "WRITE_VALIDATE"
	case jobWriteDone:
		return "WRITE_DONE"
	case jobInvalBlock:
		return "INVAL_BLOCK"
	case jobInvalBlockDone:
		return "INVAL_BLOCK_DONE"
	case jobEraseImmediate:
		return "ERASE_IMMEDIATE"
	case jobIntScan:
		return "INT_SCAN"
	case jobIntScanClrHdrParse:
		return "INT_SCAN_CLR_HDR_PARSE"
	case jobIntScanClr:
		return "INT_SCAN_CLR"
	case jobIntScanClrFmt:
		return "INT_SCAN_CLR_FMT"
	case jobIntScanClrFmtDone:
		return "INT_SCAN_CLR_FMT_DONE"
	case jobIntScanBlockHdrParse:
		return "INT_SCAN_BLOCK_HDR_PARSE"
	case jobIntSwapBlock:
		return "INT_SWAP_BLOCK"
	case jobIntSwapClrFmt:
		return "INT_SWAP_CLR_FMT"
	case jobIntSwapDataRead:
		return "INT_SWAP_DATA_READ"
	case jobIntSwapDataWrite:
		return "INT_SWAP_DATA_WRITE"
	case jobIntSwapBlockValidate:
		return "INT_SWAP_BLOCK_VALIDATE"
	case jobIntSwapClrVldDone:
		return "INT_SWAP_CLR_VLD_DONE"
	default:
		return "UNKNOWN"
	}
}

// isInternal reports whether tag belongs to the scan or swap pipeline.
func (j currentJob) isInternal() bool {
	return j >= jobIntScan
}

// jobState is the scheduler's working set: the union of everything any step
// function across any pipeline might need. Only one job is ever in flight
// (a swap may run as a digression inside a write or scan, but never
// alongside one), so one flat struct reset at the start of each request is
// simpler than a family of per-pipeline types.
type jobState struct {
	current currentJob

	blockIndex int // index into cfg.Blocks
	group      int // cluster group index the job concerns

	// Read/Write request parameters.
	offset  uint16
	length  uint16
	userBuf []byte // caller's destination (Read) or source (Write) buffer

	// WRITE_DATA allocation bookkeeping.
	headerAddr  uint32
	dataAddr    uint32
	invalidAddr uint32
	alignedSize uint32
	writtenTail uint32 // bytes of payload already programmed, for the unaligned-tail step

	swapAttempted bool // prevents looping forever if a block can never fit

	// INT_SCAN state, one group at a time.
	scanGroup        int
	scanCluster      int
	scanBestIndex    []int    // per group: cluster index of best VALID candidate, -1 if none yet
	scanBestID       []uint32 // per group: that candidate's cluster id
	scanHeaderCursor uint32   // next header address to read, during INT_SCAN_BLOCK_HDR_PARSE
	scanMinDataAddr  uint32   // lowest data_addr seen so far, i.e. the data cursor
	scanForceSwap    bool     // a corrupt block header was found; swap this group once scanned

	// INT_SWAP state.
	swapSrcClusterIndex int
	swapDstClusterIndex int
	swapClusterID        uint32
	swapBlockCursor       int    // index into cfg.Blocks, next candidate to consider copying
	swapPendingBlockIndex int    // block whose copy is mid-flight, -1 if none
	swapPendingHeaderOnly bool   // pending block got a header-only carry-forward (data_addr = 0), not a data copy
	swapDstHeaderCursor   uint32
	swapDstDataCursor     uint32
	swapBlockHeaderAddr   uint32 // header address of the block currently being copied
	swapPendingDataAddr   uint32 // that block's final (stable) data address, for finalizing the cache
	swapSrcDataAddr       uint32
	swapDstDataAddr       uint32
	swapBytesRemaining    uint32
	swapChunkLen          uint16
	swapOriginalJob       currentJob // tag to resume once the swap completes

	buf [DataBufferSize]byte // single scratch buffer, reused by every pipeline
}

func (j *jobState) reset() {
	*j = jobState{scanBestIndex: j.scanBestIndex, scanBestID: j.scanBestID}
}
