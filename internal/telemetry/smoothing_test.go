package telemetry

import (
	"math"
	"testing"
)

func TestEWMASmoother_FirstUpdateSeeds(t *testing.T) {
	s := NewEWMASmoother(0.9)
	got := s.Update(10.0)
	if got != 10.0 {
		t.Errorf("first update should seed the accumulator with the raw value, got %v", got)
	}
}

func TestEWMASmoother_BlendsSubsequentValues(t *testing.T) {
	s := NewEWMASmoother(0.5)
	s.Update(10.0)
	got := s.Update(20.0)
	want := 0.5*10.0 + 0.5*20.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestEWMASmoother_ValueReflectsLastUpdate(t *testing.T) {
	s := NewEWMASmoother(0.3)
	s.Update(1.0)
	got := s.Update(2.0)
	if s.Value() != got {
		t.Errorf("Value() should reflect the result of the last Update, got %v want %v", s.Value(), got)
	}
}

func TestEWMASmoother_Reset(t *testing.T) {
	s := NewEWMASmoother(0.5)
	s.Update(42.0)
	s.Reset()
	got := s.Update(7.0)
	if got != 7.0 {
		t.Errorf("expected Reset to clear seeded state so the next Update reseeds, got %v", got)
	}
}

func TestNewEWMASmoother_PanicsOnInvalidAlpha(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for alpha outside [0,1]")
		}
	}()
	NewEWMASmoother(1.5)
}
