package fee

import "fmt"

// Logger is the minimal structured-logging sink the engine writes
// diagnostics to. *slog.Logger satisfies this interface; a nil Logger in
// [Options] disables logging entirely.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures an [Engine] beyond its Config and Driver.
type Options struct {
	// Logger receives diagnostics. Defaults to a no-op sink.
	Logger Logger
}

// blockRuntime is the per-block cached runtime state: the outcome of the
// last startup scan or write/invalidate, kept so Read/GetRuntimeInfo never
// need to re-parse flash.
type blockRuntime struct {
	status      BlockStatus
	dataAddr    uint32
	invalidAddr uint32
}

// groupRuntime is the per-cluster-group cursor state: which cluster is
// active, and where the next header/data record will land.
//
// Groups are independent of one another: a swap or allocation exhaustion in
// one group never touches another group's cursors.
type groupRuntime struct {
	activeClusterIndex int
	activeClusterID    uint32
	headerCursor       uint32 // next free header slot, growing upward from cluster start
	dataCursor         uint32 // next free data slot, growing downward from cluster end
	forceSwapLatched   bool   // set by ForceSwapOnNextWrite
}

// RuntimeInfo is a snapshot of one cluster group's runtime state, as
// returned by [Engine.GetRuntimeInfo].
type RuntimeInfo struct {
	ActiveClusterIndex int
	ActiveClusterID    uint32
	HeaderCursor       uint32
	DataCursor         uint32
	BytesFree          uint32
}

// Engine is the core flash-EEPROM-emulation state machine: a single-threaded,
// cooperative scheduler over a configured block catalog and cluster-group
// geometry, driven by repeated calls to [Engine.MainFunction].
//
// An Engine is not safe for concurrent use; every method must be called from
// the same goroutine (typically the one also driving the underlying
// [Driver]'s callbacks).
type Engine struct {
	cfg    Config
	driver Driver
	log    Logger

	status     Status
	lastResult JobResult

	blocks []blockRuntime
	groups []groupRuntime

	job jobState

	version int
}

// Version is the on-flash format version this engine reads and writes.
// Bumped only if the binary layout in format.go changes.
const Version = 1

// New validates cfg and constructs an Engine bound to driver. The returned
// Engine starts in [StatusUninit]; call [Engine.Init] before issuing any
// other request.
func New(cfg Config, driver Driver, opts Options) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, fmt.Errorf("%w: driver is nil", ErrInvalidArgument)
	}

	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	e := &Engine{
		cfg:        cfg,
		driver:     driver,
		log:        logger,
		status:     StatusUninit,
		lastResult: JobResultOK,
		blocks:     make([]blockRuntime, len(cfg.Blocks)),
		groups:     make([]groupRuntime, len(cfg.Groups)),
		version:    Version,
	}
	for i := range e.blocks {
		e.blocks[i].status = BlockStatusNeverWritten
	}
	e.job.scanBestIndex = make([]int, len(cfg.Groups))
	e.job.scanBestID = make([]uint32, len(cfg.Groups))

	return e, nil
}

// GetJobResult returns the outcome of the most recently completed (or
// in-flight) request.
func (e *Engine) GetJobResult() JobResult {
	return e.lastResult
}

// Version reports the on-flash format version this engine instance uses.
func (e *Engine) Version() int {
	return e.version
}

// GetRuntimeInfo reports cluster group's runtime cursor state. It is a
// vendor extension absent from the upstream request API, useful for
// diagnostics and capacity planning.
func (e *Engine) GetRuntimeInfo(group int) (RuntimeInfo, error) {
	if group < 0 || group >= len(e.groups) {
		return RuntimeInfo{}, fmt.Errorf("%w: %d", ErrInvalidGroup, group)
	}
	g := e.groups[group]
	return RuntimeInfo{
		ActiveClusterIndex: g.activeClusterIndex,
		ActiveClusterID:    g.activeClusterID,
		HeaderCursor:       g.headerCursor,
		DataCursor:         g.dataCursor,
		BytesFree:          g.dataCursor - g.headerCursor,
	}, nil
}

// ForceSwapOnNextWrite latches a swap request against group: the next
// space-allocating request that touches that group (Write or
// EraseImmediateBlock) triggers a swap of the cluster rotation before it
// proceeds, even if there is otherwise room left in the active cluster.
// InvalidateBlock does not consult the latch.
//
// It is a vendor extension, useful for deterministically exercising the
// swap pipeline (in tests) or for proactively rotating a group ahead of a
// known write burst.
func (e *Engine) ForceSwapOnNextWrite(group int) error {
	if group < 0 || group >= len(e.groups) {
		return fmt.Errorf("%w: %d", ErrInvalidGroup, group)
	}
	e.groups[group].forceSwapLatched = true
	return nil
}

// blockFreeBytes returns the number of header+data bytes still available in
// group's active cluster.
func (e *Engine) blockFreeBytes(group int) uint32 {
	g := e.groups[group]
	if g.dataCursor < g.headerCursor {
		return 0
	}
	return g.dataCursor - g.headerCursor
}

// reservedAreaWritable implements §4.5's reserved_area_writable exactly: a
// hard stop that rejects any block once the active cluster can no longer
// even fit one more minimal header+data pair, and below that a soft stop
// that reserves the cluster's tail for immediate blocks only — and even
// then only while br doesn't already sit in that reserved tail.
func (e *Engine) reservedAreaWritable(group int, bc BlockConfig, br blockRuntime) bool {
	available := e.blockFreeBytes(group)
	aligned := alignToPage(uint32(bc.Size))

	if aligned+2*BlockOverhead > available {
		return false
	}

	reserved := e.cfg.Groups[group].ReservedSize
	if aligned+2*BlockOverhead+reserved > available {
		return bc.Immediate && !alreadyInReservedArea(br, reserved)
	}
	return true
}

// alreadyInReservedArea implements §4.5's "already in reserved" test for an
// immediate block's existing allocation.
func alreadyInReservedArea(br blockRuntime, reserved uint32) bool {
	if br.invalidAddr == 0 && br.dataAddr == 0 {
		return false
	}
	return br.dataAddr-(br.invalidAddr+VirtualPageSize) <= BlockOverhead+reserved
}
