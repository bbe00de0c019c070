package bundle

import (
	"bytes"
	"crypto/sha256"
)

type dedupKey struct {
	sum  [32]byte
	size uint64
}

// Deduper writes tensor payloads into an open tensor-data section,
// reusing the offset of an earlier byte-identical payload instead of
// writing it again. Tied weight matrices (shared embeddings) collapse to
// a single stored copy this way.
type Deduper struct {
	sw   *SectionWriter
	seen map[dedupKey][]uint64
	buf  []byte
}

func NewDeduper(sw *SectionWriter) *Deduper {
	return &Deduper{
		sw:   sw,
		seen: make(map[dedupKey][]uint64),
		buf:  make([]byte, 64*1024),
	}
}

// WriteTensor stores payload aligned within the section and returns its
// section-relative offset, together with whether an existing copy was
// reused.
func (d *Deduper) WriteTensor(payload []byte) (uint64, bool, error) {
	key := dedupKey{sum: sha256.Sum256(payload), size: uint64(len(payload))}
	for _, off := range d.seen[key] {
		eq, err := d.matches(off, payload)
		if err != nil {
			return 0, false, err
		}
		if eq {
			return off, true, nil
		}
	}

	if err := d.sw.Align(tensorAlign); err != nil {
		return 0, false, err
	}
	off, err := d.sw.BytesWritten()
	if err != nil {
		return 0, false, err
	}
	if _, err := d.sw.Write(payload); err != nil {
		return 0, false, err
	}
	d.seen[key] = append(d.seen[key], off)
	return off, false, nil
}

// matches re-reads the candidate range from the output file and compares
// it to payload. A hash match alone is not trusted.
func (d *Deduper) matches(off uint64, payload []byte) (bool, error) {
	abs := d.sw.start + int64(off)
	for done := 0; done < len(payload); {
		n := min(len(d.buf), len(payload)-done)
		if _, err := d.sw.w.f.ReadAt(d.buf[:n], abs+int64(done)); err != nil {
			return false, err
		}
		if !bytes.Equal(d.buf[:n], payload[done:done+n]) {
			return false, nil
		}
		done += n
	}
	return true, nil
}
