package vectorstore

import (
	"encoding/binary"
	"errors"
	"math"
)

// Sparse holds the non-zero components of a vector. TF-IDF vectors have
// tens of non-zeros over a vocabulary of tens of thousands of terms.
type Sparse struct {
	Index []uint32
	Value []float32
}

// NewSparse keeps the non-zero components of v.
func NewSparse(v []float32) Sparse {
	var s Sparse
	for i, x := range v {
		if x != 0 {
			s.Index = append(s.Index, uint32(i))
			s.Value = append(s.Value, x)
		}
	}
	return s
}

// Dot multiplies s with a dense vector. Components past len(dense) count as zero.
func (s Sparse) Dot(dense []float32) float64 {
	sum := 0.0
	for i, idx := range s.Index {
		if int(idx) < len(dense) {
			sum += float64(s.Value[i]) * float64(dense[idx])
		}
	}
	return sum
}

var errCorruptVector = errors.New("corrupt sparse vector")

// AppendBinary encodes s as a uvarint count followed by delta-coded uvarint
// indexes, each paired with a little-endian float32.
func (s Sparse) AppendBinary(buf []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s.Index)))
	prev := uint32(0)
	for i, idx := range s.Index {
		buf = binary.AppendUvarint(buf, uint64(idx-prev))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(s.Value[i]))
		prev = idx
	}
	return buf
}

// DecodeSparse reverses AppendBinary.
func DecodeSparse(data []byte) (Sparse, error) {
	n, k := binary.Uvarint(data)
	if k <= 0 || n > uint64(len(data)) {
		return Sparse{}, errCorruptVector
	}
	data = data[k:]
	s := Sparse{Index: make([]uint32, 0, n), Value: make([]float32, 0, n)}
	prev := uint64(0)
	for i := uint64(0); i < n; i++ {
		delta, k := binary.Uvarint(data)
		if k <= 0 || len(data) < k+4 {
			return Sparse{}, errCorruptVector
		}
		prev += delta
		if prev > math.MaxUint32 {
			return Sparse{}, errCorruptVector
		}
		s.Index = append(s.Index, uint32(prev))
		s.Value = append(s.Value, math.Float32frombits(binary.LittleEndian.Uint32(data[k:])))
		data = data[k+4:]
	}
	if len(data) != 0 {
		return Sparse{}, errCorruptVector
	}
	return s, nil
}
