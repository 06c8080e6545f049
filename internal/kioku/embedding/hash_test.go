package embedding

import (
	"context"
	"math"
	"testing"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(0)

	empty, err := e.Embed(ctx, "   ")
	if err != nil || empty != nil {
		t.Fatalf("Embed(blank) = %v, %v; want nil, nil", empty, err)
	}

	a, _ := e.Embed(ctx, "cat sat mat")
	b, _ := e.Embed(ctx, "cat sat mat")
	c, _ := e.Embed(ctx, "cat sat hat")
	d, _ := e.Embed(ctx, "quantum chromodynamics lecture")

	if len(a) != DefaultDimension {
		t.Fatalf("len = %d, want %d", len(a), DefaultDimension)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("HashEmbedder is not deterministic")
		}
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("|a|^2 = %v, want 1", norm)
	}

	if simAC, simAD := cosine(a, c), cosine(a, d); simAC <= simAD {
		t.Errorf("overlapping texts should score higher: cos(a,c)=%v cos(a,d)=%v", simAC, simAD)
	}
}
