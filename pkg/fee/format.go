package fee

import "encoding/binary"

// Block header field offsets, relative to the start of a BlockOverhead-sized
// on-flash record.
const (
	blkOffNumber   = 0  // uint16
	blkOffLength   = 2  // uint16
	blkOffDataAddr = 4  // uint32
	blkOffChecksum = 8  // uint32, top bit repurposed for the immediate flag
	blkOffReserved = 12 // uint8
	blkOffPad      = 13 // erased padding through blkOffValidPage

	blkOffValidPage   = BlockOverhead - 2*VirtualPageSize
	blkOffInvalidPage = BlockOverhead - VirtualPageSize
)

// Cluster header field offsets, relative to the start of a
// ClusterOverhead-sized on-flash record.
const (
	clrOffID       = 0  // uint32
	clrOffStart    = 4  // uint32
	clrOffLength   = 8  // uint32
	clrOffChecksum = 12 // uint32

	clrOffValidPage   = ClusterOverhead - 2*VirtualPageSize
	clrOffInvalidPage = ClusterOverhead - VirtualPageSize
)

// checksumImmediateBit marks a block-header checksum as belonging to an
// immediate block. The remaining 31 bits carry the sum.
const checksumImmediateBit = uint32(1) << 31

// BlockStatus classifies a block header found on flash, or the current
// runtime disposition of a configured block.
//
// [BlockStatusInvalidated] is carried for data-model completeness (the
// original AUTOSAR source defines it) but is never produced by this
// implementation: invalidating a block moves it straight to
// [BlockStatusInvalid], matching the on-flash bit pattern a scan would
// reclassify it as anyway.
type BlockStatus uint8

const (
	BlockStatusValid BlockStatus = iota
	BlockStatusInvalid
	BlockStatusInconsistent
	BlockStatusHeaderInvalid
	BlockStatusInvalidated
	BlockStatusHeaderBlank
	BlockStatusInconsistentCopy
	BlockStatusNeverWritten
)

func (s BlockStatus) String() string {
	switch s {
	case BlockStatusValid:
		return "VALID"
	case BlockStatusInvalid:
		return "INVALID"
	case BlockStatusInconsistent:
		return "INCONSISTENT"
	case BlockStatusHeaderInvalid:
		return "HEADER_INVALID"
	case BlockStatusInvalidated:
		return "INVALIDATED"
	case BlockStatusHeaderBlank:
		return "HEADER_BLANK"
	case BlockStatusInconsistentCopy:
		return "INCONSISTENT_COPY"
	case BlockStatusNeverWritten:
		return "NEVER_WRITTEN"
	default:
		return "UNKNOWN"
	}
}

// ClusterStatus classifies a cluster header found on flash.
type ClusterStatus uint8

const (
	ClusterStatusValid ClusterStatus = iota
	ClusterStatusInvalid
	ClusterStatusInconsistent
	ClusterStatusHeaderInvalid
)

func (s ClusterStatus) String() string {
	switch s {
	case ClusterStatusValid:
		return "VALID"
	case ClusterStatusInvalid:
		return "INVALID"
	case ClusterStatusInconsistent:
		return "INCONSISTENT"
	case ClusterStatusHeaderInvalid:
		return "HEADER_INVALID"
	default:
		return "UNKNOWN"
	}
}

// blankCheck reports whether every byte in buf equals ErasedValue.
func blankCheck(buf []byte) bool {
	for _, b := range buf {
		if b != ErasedValue {
			return false
		}
	}
	return true
}

// deserializeFlag classifies one VirtualPageSize flag page.
//
// The first byte must equal pattern (set=true), or ErasedValue (set=false);
// any other first byte, or a non-blank remainder after an erased or pattern
// first byte, yields ok=false (HEADER_INVALID).
func deserializeFlag(page []byte, pattern byte) (set bool, ok bool) {
	first := page[0]
	switch first {
	case pattern:
		set = true
	case ErasedValue:
		set = false
	default:
		return false, false
	}

	for _, b := range page[1:] {
		if b != ErasedValue {
			return false, false
		}
	}

	return set, true
}

// serializeFlagPage returns a VirtualPageSize buffer with the given pattern
// as its first byte and ErasedValue filling the rest.
func serializeFlagPage(pattern byte) []byte {
	page := make([]byte, VirtualPageSize)
	page[0] = pattern
	for i := 1; i < len(page); i++ {
		page[i] = ErasedValue
	}
	return page
}

// classifyFlags applies the strict two-bit decision tree shared by block and
// cluster headers: invalidated takes priority over validated, and the
// all-false state is INCONSISTENT. This is the corrected tree called for by
// the "cluster INCONSISTENT vs VALID" design note; it is applied uniformly
// to both header kinds rather than leaving room for the non-exclusive
// if-chain the design note flags as a bug.
func classifyFlags(validSet, invalidSet bool) (valid, invalid, inconsistent bool) {
	switch {
	case invalidSet:
		return false, true, false
	case validSet:
		return true, false, false
	default:
		return false, false, true
	}
}

// blockChecksum computes the 31-bit sum checksum with the immediate bit
// folded in per §3: if immediate, add 1 to the sum and force the top bit
// set; otherwise leave the top bit clear.
func blockChecksum(blockNumber, length uint16, dataAddr uint32, immediate bool) uint32 {
	sum := uint32(blockNumber) + uint32(length) + dataAddr
	if immediate {
		return ((sum + 1) & 0x7FFFFFFF) | checksumImmediateBit
	}
	return sum & 0x7FFFFFFF
}

// serializeBlockHeader encodes a BlockOverhead-sized on-flash block header.
// The header is written entirely unvalidated: both flag pages are blank.
func serializeBlockHeader(blockNumber, length uint16, dataAddr uint32, immediate bool) []byte {
	buf := make([]byte, BlockOverhead)

	binary.LittleEndian.PutUint16(buf[blkOffNumber:], blockNumber)
	binary.LittleEndian.PutUint16(buf[blkOffLength:], length)
	binary.LittleEndian.PutUint32(buf[blkOffDataAddr:], dataAddr)
	binary.LittleEndian.PutUint32(buf[blkOffChecksum:], blockChecksum(blockNumber, length, dataAddr, immediate))
	buf[blkOffReserved] = 0x00

	for i := blkOffPad; i < blkOffValidPage; i++ {
		buf[i] = ErasedValue
	}
	for i := blkOffValidPage; i < BlockOverhead; i++ {
		buf[i] = ErasedValue
	}

	return buf
}

// DecodedBlockHeader is the result of a successful (non-corrupt, non-blank)
// block header parse.
type DecodedBlockHeader struct {
	BlockNumber uint16
	Length      uint16
	DataAddr    uint32
	Immediate   bool
}

// deserializeBlockHeader parses a BlockOverhead-sized buffer.
//
// It returns BlockStatusHeaderBlank if every byte is erased,
// BlockStatusHeaderInvalid if the checksum or either flag page is
// malformed, and otherwise one of VALID/INVALID/INCONSISTENT per the
// shared flag decision tree.
func deserializeBlockHeader(buf []byte) (BlockStatus, DecodedBlockHeader) {
	if blankCheck(buf) {
		return BlockStatusHeaderBlank, DecodedBlockHeader{}
	}

	blockNumber := binary.LittleEndian.Uint16(buf[blkOffNumber:])
	length := binary.LittleEndian.Uint16(buf[blkOffLength:])
	dataAddr := binary.LittleEndian.Uint32(buf[blkOffDataAddr:])
	stored := binary.LittleEndian.Uint32(buf[blkOffChecksum:])

	immediate := stored&checksumImmediateBit != 0
	want := blockChecksum(blockNumber, length, dataAddr, immediate)
	if (stored & 0x7FFFFFFF) != (want & 0x7FFFFFFF) {
		return BlockStatusHeaderInvalid, DecodedBlockHeader{}
	}

	for i := blkOffPad; i < blkOffValidPage; i++ {
		if buf[i] != ErasedValue {
			return BlockStatusHeaderInvalid, DecodedBlockHeader{}
		}
	}

	validSet, ok := deserializeFlag(buf[blkOffValidPage:blkOffInvalidPage], ValidatedValue)
	if !ok {
		return BlockStatusHeaderInvalid, DecodedBlockHeader{}
	}
	invalidSet, ok := deserializeFlag(buf[blkOffInvalidPage:BlockOverhead], InvalidatedValue)
	if !ok {
		return BlockStatusHeaderInvalid, DecodedBlockHeader{}
	}

	valid, invalid, inconsistent := classifyFlags(validSet, invalidSet)
	decoded := DecodedBlockHeader{BlockNumber: blockNumber, Length: length, DataAddr: dataAddr, Immediate: immediate}

	switch {
	case invalid:
		return BlockStatusInvalid, decoded
	case valid:
		return BlockStatusValid, decoded
	case inconsistent:
		return BlockStatusInconsistent, decoded
	default:
		panic("fee: unreachable flag classification")
	}
}

// clusterChecksum computes the unsigned 32-bit wraparound sum of the three
// geometry fields.
func clusterChecksum(clusterID, startAddr, length uint32) uint32 {
	return clusterID + startAddr + length
}

// serializeClusterHeader encodes a ClusterOverhead-sized on-flash cluster
// header, written entirely unvalidated (both flag pages blank).
func serializeClusterHeader(clusterID, startAddr, length uint32) []byte {
	buf := make([]byte, ClusterOverhead)

	binary.LittleEndian.PutUint32(buf[clrOffID:], clusterID)
	binary.LittleEndian.PutUint32(buf[clrOffStart:], startAddr)
	binary.LittleEndian.PutUint32(buf[clrOffLength:], length)
	binary.LittleEndian.PutUint32(buf[clrOffChecksum:], clusterChecksum(clusterID, startAddr, length))

	for i := clrOffValidPage; i < ClusterOverhead; i++ {
		buf[i] = ErasedValue
	}

	return buf
}

// DecodedClusterHeader is the result of a successful (non-corrupt, non-blank)
// cluster header parse.
type DecodedClusterHeader struct {
	ClusterID uint32
	StartAddr uint32
	Length    uint32
}

// deserializeClusterHeader parses a ClusterOverhead-sized buffer, applying
// the same strict flag decision tree as block headers (see
// [classifyFlags]); the cluster path has no separate blank-header status
// since cluster headers are always written synchronously during scan/swap
// formatting before any data is trusted to exist.
func deserializeClusterHeader(buf []byte) (ClusterStatus, DecodedClusterHeader) {
	clusterID := binary.LittleEndian.Uint32(buf[clrOffID:])
	startAddr := binary.LittleEndian.Uint32(buf[clrOffStart:])
	length := binary.LittleEndian.Uint32(buf[clrOffLength:])
	stored := binary.LittleEndian.Uint32(buf[clrOffChecksum:])

	if stored != clusterChecksum(clusterID, startAddr, length) {
		return ClusterStatusHeaderInvalid, DecodedClusterHeader{}
	}

	validSet, ok := deserializeFlag(buf[clrOffValidPage:clrOffInvalidPage], ValidatedValue)
	if !ok {
		return ClusterStatusHeaderInvalid, DecodedClusterHeader{}
	}
	invalidSet, ok := deserializeFlag(buf[clrOffInvalidPage:ClusterOverhead], InvalidatedValue)
	if !ok {
		return ClusterStatusHeaderInvalid, DecodedClusterHeader{}
	}

	valid, invalid, inconsistent := classifyFlags(validSet, invalidSet)
	decoded := DecodedClusterHeader{ClusterID: clusterID, StartAddr: startAddr, Length: length}

	switch {
	case invalid:
		return ClusterStatusInvalid, decoded
	case valid:
		return ClusterStatusValid, decoded
	case inconsistent:
		return ClusterStatusInconsistent, decoded
	default:
		panic("fee: unreachable flag classification")
	}
}
