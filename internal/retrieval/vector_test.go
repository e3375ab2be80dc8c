package retrieval

import (
	"math"
	"testing"
)

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0.1, -2.5, 0, 1e9, -1e-9}

	got, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("got %d values, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("value %d = %g, want %g", i, got[i], in[i])
		}
	}
}

func TestDecodeVectorRejectsTruncatedBlob(t *testing.T) {
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("DecodeVector accepted a 3-byte blob, want error")
	}
}

func TestCosine(t *testing.T) {
	a := []float32{1, 0}
	aNorm := norm(a)

	tests := []struct {
		name string
		b    []float32
		want float64
	}{
		{"identical", []float32{1, 0}, 1},
		{"orthogonal", []float32{0, 1}, 0},
		{"partial", []float32{0.82, float32(math.Sqrt(1 - 0.82*0.82))}, 0.82},
		{"dimension mismatch", []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosine(a, tt.b, aNorm)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("cosine = %g, want %g", got, tt.want)
			}
		})
	}
}
