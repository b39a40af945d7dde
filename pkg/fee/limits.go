package fee

// Layout constants.
//
// These four sizes define the on-flash binary layout and the bounds the
// scheduler's internal buffer must satisfy. They are compile-time constants
// rather than per-[Engine] configuration because changing them changes the
// on-flash format; an engine opened with one set of values cannot read flash
// written with another.
const (
	// VirtualPageSize is the flag-page granularity. All flag pages and all
	// raw-flash program units are multiples of this size.
	VirtualPageSize = 8

	// BlockOverhead is the size in bytes of one on-flash block header.
	BlockOverhead = 32

	// ClusterOverhead is the size in bytes of one on-flash cluster header.
	ClusterOverhead = 32

	// DataBufferSize is the size of the engine's single internal scratch
	// buffer, shared by every job since only one job is ever in flight.
	//
	// Must be a multiple of VirtualPageSize and at least
	// max(BlockOverhead, ClusterOverhead).
	DataBufferSize = 128
)

// Flag-page byte patterns.
const (
	// ErasedValue is the byte pattern of erased (blank) flash.
	ErasedValue = 0xFF

	// ValidatedValue marks a flag page as VALIDATED.
	ValidatedValue = 0x81

	// InvalidatedValue marks a flag page as INVALIDATED.
	InvalidatedValue = 0x18
)

func init() {
	if DataBufferSize%VirtualPageSize != 0 {
		panic("fee: DataBufferSize must be a multiple of VirtualPageSize")
	}
	if DataBufferSize < BlockOverhead || DataBufferSize < ClusterOverhead {
		panic("fee: DataBufferSize must be >= BlockOverhead and >= ClusterOverhead")
	}
}
