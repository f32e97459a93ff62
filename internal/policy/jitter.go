package policy

import (
	"math/rand"
	"time"
)

// Jitter perturbs base by a uniform amount in [-spread, +spread]. It depends
// only on its arguments, so a seeded rng gives reproducible delays.
func Jitter(base, spread time.Duration, rng *rand.Rand) time.Duration {
	if spread <= 0 || rng == nil {
		return base
	}
	offset := time.Duration(rng.Int63n(int64(2*spread)+1)) - spread
	return base + offset
}

// Clamp bounds d to [floor, ceiling]
func Clamp(d, floor, ceiling time.Duration) time.Duration {
	if d < floor {
		return floor
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
