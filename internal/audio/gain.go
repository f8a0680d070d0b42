package audio

import (
	"math"

	"github.com/gopxl/beep/v2/effects"
)

const (
	VolumeCurveExponent = 0.5
	MinVolumeExponent   = -10.0
)

// GainExponent maps a linear volume in [0, 1] onto the base-2 exponent used
// by effects.Volume. The curve is steeper near the top so small changes at
// high volume stay audible.
func GainExponent(v float64) float64 {
	if v <= 0 {
		return MinVolumeExponent
	}
	if v >= 1 {
		return 0
	}
	adjusted := math.Pow(v, VolumeCurveExponent)
	return (1.0 - adjusted) * MinVolumeExponent
}

// ApplyGain sets vol for the given volume and mute flag. Callers must hold
// the sink lock when vol is live.
func ApplyGain(vol *effects.Volume, v float64, muted bool) {
	vol.Base = 2
	vol.Volume = GainExponent(v)
	vol.Silent = muted || v <= 0
}
