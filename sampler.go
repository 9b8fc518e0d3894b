package tracekit

import (
	"math/rand/v2"
)

// Sampler returns a value in [0, 1) used for the sampling decision.
type Sampler func() float64

// RandomSampler draws from math/rand/v2.
func RandomSampler() float64 {
	return rand.Float64()
}

// sampled reports whether a trace is kept at the given rate.
// A rate of 1 keeps everything without consulting the sampler.
func sampled(rate float64, draw Sampler) bool {
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}
	return draw() < rate
}
