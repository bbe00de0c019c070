// Package bundle implements the RTB translation bundle format.
//
// A bundle is a single, memory-mappable file carrying everything a
// translation model needs at decode time: architecture config, the two
// vocabularies, and the weight tensors. The file starts with a fixed
// little-endian header, followed by aligned sections located through a
// section directory at the end of the file. The format describes data
// only; it never implies runtime behaviour.
package bundle

import "encoding/binary"

const (
	// MagicRTB is the file magic for all bundles, encoded as "RTB\0".
	MagicRTB = "RTB\x00"

	// CurrentMajor changes only on breaking format changes; readers reject
	// files with a different major version.
	CurrentMajor uint16 = 1

	// CurrentMinor may introduce optional sections or fields.
	CurrentMinor uint16 = 0
)

const (
	headerSize  = 40
	sectionSize = 24

	// sectionAlign keeps section starts aligned for zero-copy casts of
	// mapped payloads.
	sectionAlign = 8
)

type SectionType uint32

const (
	SectionModelInfo   SectionType = 0x0001
	SectionSourceVocab SectionType = 0x0002
	SectionTargetVocab SectionType = 0x0003
	SectionTensorIndex SectionType = 0x0004
	SectionTensorData  SectionType = 0x0005
)

func (t SectionType) String() string {
	switch t {
	case SectionModelInfo:
		return "model-info"
	case SectionSourceVocab:
		return "source-vocab"
	case SectionTargetVocab:
		return "target-vocab"
	case SectionTensorIndex:
		return "tensor-index"
	case SectionTensorData:
		return "tensor-data"
	default:
		return "unknown"
	}
}

type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

func (h *Header) Valid() bool {
	if string(h.Magic[:]) != MagicRTB {
		return false
	}
	if h.HeaderSize < headerSize {
		return false
	}
	return h.SectionCount > 0
}

func (h *Header) Compatible() bool {
	return h.Major == CurrentMajor
}

type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func encodeHeader(dst []byte, h Header) bool {
	if len(dst) < headerSize {
		return false
	}
	copy(dst[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(dst[4:6], h.Major)
	binary.LittleEndian.PutUint16(dst[6:8], h.Minor)
	binary.LittleEndian.PutUint32(dst[8:12], h.HeaderSize)
	binary.LittleEndian.PutUint32(dst[12:16], h.SectionCount)
	binary.LittleEndian.PutUint64(dst[16:24], h.SectionDirOffset)
	binary.LittleEndian.PutUint64(dst[24:32], h.FileSize)
	binary.LittleEndian.PutUint64(dst[32:40], h.Flags)
	return true
}

func decodeHeader(src []byte) (Header, bool) {
	if len(src) < headerSize {
		return Header{}, false
	}
	var h Header
	copy(h.Magic[:], src[0:4])
	h.Major = binary.LittleEndian.Uint16(src[4:6])
	h.Minor = binary.LittleEndian.Uint16(src[6:8])
	h.HeaderSize = binary.LittleEndian.Uint32(src[8:12])
	h.SectionCount = binary.LittleEndian.Uint32(src[12:16])
	h.SectionDirOffset = binary.LittleEndian.Uint64(src[16:24])
	h.FileSize = binary.LittleEndian.Uint64(src[24:32])
	h.Flags = binary.LittleEndian.Uint64(src[32:40])
	return h, true
}

func encodeSection(dst []byte, s Section) bool {
	if len(dst) < sectionSize {
		return false
	}
	binary.LittleEndian.PutUint32(dst[0:4], s.Type)
	binary.LittleEndian.PutUint32(dst[4:8], s.Version)
	binary.LittleEndian.PutUint64(dst[8:16], s.Offset)
	binary.LittleEndian.PutUint64(dst[16:24], s.Size)
	return true
}

func decodeSection(src []byte) (Section, bool) {
	if len(src) < sectionSize {
		return Section{}, false
	}
	var s Section
	s.Type = binary.LittleEndian.Uint32(src[0:4])
	s.Version = binary.LittleEndian.Uint32(src[4:8])
	s.Offset = binary.LittleEndian.Uint64(src[8:16])
	s.Size = binary.LittleEndian.Uint64(src[16:24])
	return s, true
}
