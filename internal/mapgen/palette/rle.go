package palette

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// MaxRun caps a single run so a decoded plane cannot be inflated without bound.
const MaxRun = 1 << 24

// EncodePlane encodes palette indices as base64(varint pairs), each pair being
// (index, run length).
func EncodePlane(ids []uint16) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(ids) {
		b := ids[i]
		run := 1
		for j := i + 1; j < len(ids) && ids[j] == b && run < MaxRun; j++ {
			run++
		}

		n := binary.PutUvarint(tmp[:], uint64(b))
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodePlane reverses EncodePlane. want, when positive, is the exact number of
// cells expected.
func DecodePlane(b64 string, want int) ([]uint16, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	out := make([]uint16, 0, max(want, 0))
	for i := 0; i < len(raw); {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if b > 0xFFFF {
			return nil, fmt.Errorf("palette index too large: %d", b)
		}
		if run == 0 || run > MaxRun {
			return nil, fmt.Errorf("bad run length %d at %d", run, i)
		}
		if want > 0 && len(out)+int(run) > want {
			return nil, fmt.Errorf("plane overflows %d cells", want)
		}
		for k := 0; k < int(run); k++ {
			out = append(out, uint16(b))
		}
	}
	if want > 0 && len(out) != want {
		return nil, fmt.Errorf("plane has %d cells, want %d", len(out), want)
	}
	return out, nil
}
