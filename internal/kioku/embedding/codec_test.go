package embedding

import (
	"math"
	"testing"
)

func TestVectorCodec(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, math.MaxFloat32, float32(math.Inf(-1))}
	blob := EncodeVector(in)
	if len(blob) != 4*len(in) {
		t.Fatalf("blob length = %d, want %d", len(blob), 4*len(in))
	}
	// little-endian 1.0 is 0x3f800000
	if blob[4] != 0x00 || blob[7] != 0x3f {
		t.Errorf("unexpected byte order: % x", blob[4:8])
	}
	out, err := DecodeVector(blob)
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}

	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
