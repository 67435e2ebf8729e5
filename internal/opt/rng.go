package opt

import "math"

// deriveSeed mixes a parent seed and a stream id SplitMix64-style so parallel trials get
// decorrelated generators from one configured seed.
func deriveSeed(parent int64, stream uint64) int64 {
	x := uint64(parent) ^ (stream + 0x9e3779b97f4a7c15)
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x ^= x >> 31
	return int64(x)
}

// removalFraction spreads the random/route removal size across trials: trial 0 uses e,
// later trials widen it up to twice e.
func removalFraction(e float64, trial, trials int) float64 {
	if trials <= 1 || trial == 0 {
		return e
	}
	return math.Min(1, e*(1+float64(trial)/float64(trials-1)))
}
