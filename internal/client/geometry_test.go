package client

import (
	"math"
	"testing"
)

func TestDistanceTo(t *testing.T) {
	a := Position{X: 0, Y: 0}
	b := Position{X: 3, Y: 4}

	if got := a.DistanceTo(b); got != 5 {
		t.Fatalf("distance = %v, want 5", got)
	}
	if got := b.DistanceTo(a); got != 5 {
		t.Fatalf("distance should be symmetric, got %v", got)
	}
	if got := a.DistanceTo(a); got != 0 {
		t.Fatalf("distance to self = %v, want 0", got)
	}
}

func TestDirectionVectorsAreUnit(t *testing.T) {
	for _, dir := range []Direction{DirectionUp, DirectionDown, DirectionLeft, DirectionRight} {
		dx, dy := dir.Vector()
		if length := math.Hypot(dx, dy); length != 1 {
			t.Fatalf("direction %s vector length = %v, want 1", dir, length)
		}
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		input   string
		want    Direction
		wantErr bool
	}{
		{input: "up", want: DirectionUp},
		{input: "DOWN", want: DirectionDown},
		{input: " left ", want: DirectionLeft},
		{input: "Right", want: DirectionRight},
		{input: "sideways", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseDirection(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDirection(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDirection(%q): %v", tt.input, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDirection(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
