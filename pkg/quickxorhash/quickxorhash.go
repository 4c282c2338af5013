// Package quickxorhash implements the QuickXorHash checksum that
// SharePoint and OneDrive attach to drive items.
//
// Each input byte is XORed into a 160-bit circular buffer; the insertion
// point advances 11 bits per byte, so the buffer wraps every 160 bytes.
// The digest finally XORs the total input length into its tail.
//
// Reference C# implementation by Microsoft:
// https://learn.microsoft.com/en-us/onedrive/developer/code-snippets/quickxorhash
package quickxorhash

import (
	"encoding/binary"
	"hash"
)

const (
	// Size is the length, in bytes, of a QuickXorHash digest.
	Size = 20

	// BlockSize is the preferred input block size, in bytes.
	BlockSize = 64

	// shiftPerByte is how far the insertion point advances per input byte.
	shiftPerByte = 11

	// ringBits is the width of the circular XOR buffer.
	ringBits = 160

	// cellCount is the number of uint64 cells backing the ring.
	cellCount = 3

	// lastCellBits is the number of valid bits in the final cell
	// (160 - 2*64). Higher bits of that cell may hold garbage from
	// straddling XORs; Sum truncates them away.
	lastCellBits = 32
)

type digest struct {
	cells  [cellCount]uint64
	bitPos int
	length uint64
}

// New returns a hash.Hash computing the QuickXorHash checksum.
func New() hash.Hash {
	return &digest{}
}

// cellWidth returns the number of valid bits in cell i.
func cellWidth(i int) int {
	if i == cellCount-1 {
		return lastCellBits
	}

	return 64
}

// Write absorbs p into the running hash. Always returns len(p), nil.
func (d *digest) Write(p []byte) (int, error) {
	pos := d.bitPos

	for _, b := range p {
		cell := 0
		off := pos

		for off >= cellWidth(cell) {
			off -= cellWidth(cell)
			cell++
		}

		width := cellWidth(cell)
		d.cells[cell] ^= uint64(b) << off

		// Straddling bits spill into the next cell, wrapping at the end
		// of the ring.
		if off+8 > width {
			next := (cell + 1) % cellCount
			d.cells[next] ^= uint64(b) >> (width - off)
		}

		pos = (pos + shiftPerByte) % ringBits
	}

	d.bitPos = pos
	d.length += uint64(len(p))

	return len(p), nil
}

// Sum appends the current digest to b without changing the hash state.
func (d *digest) Sum(b []byte) []byte {
	var out [Size]byte

	binary.LittleEndian.PutUint64(out[0:8], d.cells[0])
	binary.LittleEndian.PutUint64(out[8:16], d.cells[1])
	// Only lastCellBits of the final cell are meaningful.
	binary.LittleEndian.PutUint32(out[16:Size], uint32(d.cells[2]))

	// XOR the input length into the last 8 bytes of the digest.
	var lenBytes [8]byte
	binary.LittleEndian.PutUint64(lenBytes[:], d.length)

	for i, lb := range lenBytes {
		out[Size-8+i] ^= lb
	}

	return append(b, out[:]...)
}

func (d *digest) Reset() {
	*d = digest{}
}

func (d *digest) Size() int {
	return Size
}

func (d *digest) BlockSize() int {
	return BlockSize
}
