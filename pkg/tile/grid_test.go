package tile

import (
	"errors"
	"image"
	"testing"
)

func TestNewGridMaxTier(t *testing.T) {
	tests := []struct {
		w, h, size int
		want       int
	}{
		{256, 256, 256, 0},
		{257, 10, 256, 1},
		{4000, 3000, 256, 4},
		{8192, 100, 512, 4},
		{1, 1, 256, 0},
	}
	for _, tt := range tests {
		g, err := NewGrid(tt.w, tt.h, tt.size)
		if err != nil {
			t.Fatalf("NewGrid(%d,%d,%d): %v", tt.w, tt.h, tt.size, err)
		}
		if g.MaxTier != tt.want {
			t.Errorf("NewGrid(%d,%d,%d).MaxTier = %d, want %d", tt.w, tt.h, tt.size, g.MaxTier, tt.want)
		}
		rows, cols := g.Dims(0)
		if rows != 1 || cols != 1 {
			t.Errorf("tier 0 of %dx%d has %dx%d tiles, want 1x1", tt.w, tt.h, rows, cols)
		}
	}
}

func TestNewGridRejectsDegenerate(t *testing.T) {
	if _, err := NewGrid(0, 10, 256); err == nil {
		t.Error("expected error for zero width")
	}
	if _, err := NewGrid(10, 10, 0); err == nil {
		t.Error("expected error for zero tile size")
	}
}

func TestGridTilesCoverImageExactlyOnce(t *testing.T) {
	g, err := NewGrid(1000, 700, 128)
	if err != nil {
		t.Fatal(err)
	}
	for tier := 0; tier <= g.MaxTier; tier++ {
		hits := make([]uint8, g.Width*g.Height)
		rows, cols := g.Dims(tier)
		for row := 0; row < rows; row++ {
			for col := 0; col < cols; col++ {
				r := g.Rect(Key{Tier: tier, Row: row, Col: col})
				if r.Empty() {
					t.Fatalf("tier %d tile %d/%d is empty", tier, row, col)
				}
				for y := r.Min.Y; y < r.Max.Y; y++ {
					for x := r.Min.X; x < r.Max.X; x++ {
						hits[y*g.Width+x]++
					}
				}
			}
		}
		for i, n := range hits {
			if n != 1 {
				t.Fatalf("tier %d: pixel (%d,%d) covered %d times", tier, i%g.Width, i/g.Width, n)
			}
		}
	}
}

func TestGridSampleSize(t *testing.T) {
	g, _ := NewGrid(4000, 3000, 256)
	if got := g.SampleSize(g.MaxTier); got != 1 {
		t.Errorf("SampleSize(MaxTier) = %d, want 1", got)
	}
	if got := g.SampleSize(0); got != 16 {
		t.Errorf("SampleSize(0) = %d, want 16", got)
	}
	if got := g.SampleSize(99); got != 1 {
		t.Errorf("SampleSize clamps high tiers, got %d", got)
	}
}

func TestGridKeysInWithMargin(t *testing.T) {
	g, _ := NewGrid(4000, 3000, 256)
	keys := g.KeysIn(g.MaxTier, image.Rect(300, 300, 600, 600))
	if len(keys) != 4 {
		t.Fatalf("expected 4 keys, got %d: %v", len(keys), keys)
	}
	row0, col0, row1, col1, ok := g.Range(g.MaxTier, image.Rect(0, 0, 10, 10), 1)
	if !ok || row0 != 0 || col0 != 0 || row1 != 1 || col1 != 1 {
		t.Errorf("Range with margin at origin = %d,%d..%d,%d ok=%v", row0, col0, row1, col1, ok)
	}
	if _, _, _, _, ok := g.Range(1, image.Rect(5000, 5000, 5100, 5100), 0); ok {
		t.Error("expected no range outside the image")
	}
}

func TestGridTierForDensity(t *testing.T) {
	g, _ := NewGrid(4000, 3000, 256)
	tests := []struct {
		density float64
		want    int
	}{
		{1, 4},
		{2, 4},
		{0.5, 3},
		{0.2, 2},
		{0.01, 0},
		{0, 0},
	}
	for _, tt := range tests {
		if got := g.TierForDensity(tt.density); got != tt.want {
			t.Errorf("TierForDensity(%v) = %d, want %d", tt.density, got, tt.want)
		}
	}
}

func TestTransitionIsTotal(t *testing.T) {
	for s := Pending; s <= Failed; s++ {
		for e := EventStart; e <= EventRetry; e++ {
			next, err := Transition(s, e)
			if err != nil {
				var te *TransitionError
				if !errors.As(err, &te) {
					t.Errorf("%s/%s: unexpected error type %T", s, e, err)
				}
				if next != s {
					t.Errorf("%s/%s: invalid transition changed state to %s", s, e, next)
				}
			}
		}
	}
	if next, _ := Transition(Loading, EventDecoded); next != Ready {
		t.Errorf("Loading+decoded = %s, want ready", next)
	}
	if next, err := Transition(Ready, EventDecoded); err != nil || next != Ready {
		t.Errorf("Ready+decoded should be idempotent, got %s, %v", next, err)
	}
	if next, _ := Transition(Failed, EventRetry); next != Pending {
		t.Errorf("Failed+retry = %s, want pending", next)
	}
}
