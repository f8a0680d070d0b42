package player

// PlaybackRates is the escalating set of speeds the transport offers.
var PlaybackRates = []float64{0.5, 0.75, 1, 1.25, 1.5, 2}

const DefaultRate = 1.0

func ValidRate(rate float64) bool {
	for _, r := range PlaybackRates {
		if r == rate {
			return true
		}
	}
	return false
}

// NextRate returns the next faster rate, wrapping to the slowest.
func NextRate(current float64) float64 {
	for _, r := range PlaybackRates {
		if r > current {
			return r
		}
	}
	return PlaybackRates[0]
}
