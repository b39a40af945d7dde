package fee

import "errors"

// Error classification.
//
// Rebuild-class errors mean the on-flash layout itself cannot be trusted for
// the affected record/cluster; the engine recovers on its own (via the scan
// or swap pipeline) and these are surfaced for observability only.
//
// Operational-class errors are returned synchronously from request APIs and
// mean the request itself was rejected; the engine state is unchanged.
var (
	// ErrNotInitialized is returned when a request API is called before Init
	// has been called. While Init's scan is still running, requests get
	// ErrBusy instead.
	ErrNotInitialized = errors.New("fee: not initialized")

	// ErrBusy is returned when a request API is called while the engine is
	// already processing another job.
	ErrBusy = errors.New("fee: busy")

	// ErrUnknownBlock is returned when a request names a block number absent
	// from the configured catalog.
	ErrUnknownBlock = errors.New("fee: unknown block")

	// ErrInvalidArgument is returned for out-of-range offsets/lengths at the
	// request boundary.
	ErrInvalidArgument = errors.New("fee: invalid argument")

	// ErrInvalidGroup is returned by GetRuntimeInfo/ForceSwapOnNextWrite for
	// an out-of-range cluster group index.
	ErrInvalidGroup = errors.New("fee: invalid cluster group")

	// ErrCorruptLayout is a rebuild-class error: a cluster or block header
	// read failed during the scan. The scan pipeline recovers on its own,
	// treating the affected header as invalid and latching a swap; logged
	// for observability only, never returned to a caller. Checksum and
	// geometry mismatches found by the scan latch the same swap without
	// logging this error.
	ErrCorruptLayout = errors.New("fee: corrupt cluster layout")

	// ErrHardware is a rebuild-class error reported by the raw-flash
	// [Driver] while copying a block's payload during a swap. The affected
	// block is demoted to INCONSISTENT_COPY and the swap continues with
	// the next block; logged for observability only, never returned to a
	// caller. A driver failure during a user-issued Read/Write/Invalidate/
	// EraseImmediateBlock request instead ends that request with
	// JobResultFailed, observed through GetJobResult (see
	// [Engine.JobErrorNotification]).
	ErrHardware = errors.New("fee: hardware failure")
)
