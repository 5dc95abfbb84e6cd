package sqlite

import (
	"encoding/binary"
	"fmt"
	"math"
)

// float32ArrayToBLOB encodes a vector as little-endian float32 bytes.
func float32ArrayToBLOB(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("invalid vector dimension: 0")
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	return buf, nil
}

// blobToFloat32Array is the inverse of float32ArrayToBLOB. dim is the
// dimension recorded next to the blob.
func blobToFloat32Array(blob []byte, dim int) ([]float32, error) {
	if dim <= 0 || len(blob) != dim*4 {
		return nil, fmt.Errorf("invalid BLOB length: got %d, want %d", len(blob), dim*4)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4 : i*4+4]))
	}
	return vec, nil
}
