package control

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnwrapDelta_CrossesSeam(t *testing.T) {
	tests := []struct {
		name  string
		delta float64
		want  float64
	}{
		{"small forward", 0.1, 0.1},
		{"small backward", -0.1, -0.1},
		{"forward across seam", (-math.Pi + 0.05) - (math.Pi - 0.05), 0.1},
		{"backward across seam", (math.Pi - 0.05) - (-math.Pi + 0.05), -0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, unwrapDelta(tt.delta), 1e-9)
		})
	}
}

func TestNormalizeAngle_Range(t *testing.T) {
	for _, a := range []float64{-7, -math.Pi, 0, 1, math.Pi, 7} {
		got := normalizeAngle(a)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.Less(t, got, 2*math.Pi)
	}
}

func TestTrack_PointAtAndAngleOf_RoundTrip(t *testing.T) {
	track := DefaultConfig().Track
	p := track.PointAt(1.2, track.Radius)
	assert.InDelta(t, 1.2, track.AngleOf(p), 1e-9)
	assert.False(t, track.OffTrack(p))
	assert.True(t, track.OffTrack(track.PointAt(0, track.InnerRadius-1)))
	assert.True(t, track.OffTrack(track.PointAt(0, track.InnerRadius+track.Width+1)))
}

func TestTrack_Location_TurnAndMarker(t *testing.T) {
	track := DefaultConfig().Track
	c := track.Circumference()

	turn, km, label := track.Location(c / 2)

	assert.Equal(t, track.Turns/2+1, turn)
	assert.InDelta(t, c/2000, km, 1e-9)
	assert.Contains(t, label, "Turn")

	first, _, _ := track.Location(0)
	assert.Equal(t, 1, first)
}
