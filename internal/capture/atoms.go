package capture

import (
	"encoding/binary"
	"sort"
)

// Atom is a top-level ISO-BMFF box: [u32 size][4-char name][payload...].
type Atom struct {
	Offset int
	Length int
}

// scanAtoms walks top-level boxes in data, stopping at the first malformed or
// truncated box header. Grounded on the teacher's GetAtoms, rewritten to
// avoid a hex-roundtrip for the 32-bit big-endian size field.
func scanAtoms(data []byte) map[string]Atom {
	atoms := make(map[string]Atom)
	ofs := 0

	for ofs+8 <= len(data) {
		size := int(binary.BigEndian.Uint32(data[ofs : ofs+4]))
		if size < 8 || ofs+size > len(data) {
			break
		}

		name := string(data[ofs+4 : ofs+8])
		atoms[name] = Atom{Offset: ofs, Length: size}
		ofs += size
	}

	return atoms
}

// removeAtoms splices the named top-level boxes out of data, in descending
// offset order so earlier splices don't invalidate later offsets.
func removeAtoms(data []byte, names ...string) []byte {
	atoms := scanAtoms(data)

	var toRemove []Atom
	for _, name := range names {
		if a, ok := atoms[name]; ok {
			toRemove = append(toRemove, a)
		}
	}

	sort.Slice(toRemove, func(i, j int) bool {
		return toRemove[i].Offset > toRemove[j].Offset
	})

	for _, a := range toRemove {
		end := a.Offset + a.Length
		data = append(data[:a.Offset], data[end:]...)
	}

	return data
}

// RemoveSidx is the container fix-up from §6: excise a top-level "sidx" box
// from the leading bytes of a fragment. Idempotent and a no-op when data has
// no sidx box, by construction of scanAtoms/removeAtoms.
func RemoveSidx(data []byte) []byte {
	return removeAtoms(data, "sidx")
}

// RemoveSidxAndLeadingFtyp additionally strips a duplicate "ftyp" box from
// fragments after the first one, matching the teacher's ffmpeg-6.1
// workaround: concatenating multiple ftyp atoms confuses some muxers.
func RemoveSidxAndLeadingFtyp(data []byte) []byte {
	return removeAtoms(data, "sidx", "ftyp")
}
