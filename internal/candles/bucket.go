package candles

import "time"

// DefaultFutureTolerance is how far past the wall clock a bucket may start
// before it is clamped back to the current bucket.
const DefaultFutureTolerance int64 = 300

// BucketStart aligns ts down to a multiple of interval, clamping buckets that
// would start more than DefaultFutureTolerance seconds in the future.
func BucketStart(ts, interval int64) int64 {
	return BucketStartAt(ts, interval, time.Now().Unix(), DefaultFutureTolerance)
}

// BucketStartAt is BucketStart with an explicit clock and tolerance.
func BucketStartAt(ts, interval, now, tolerance int64) int64 {
	bucket := align(ts, interval)
	if bucket > now+tolerance {
		return align(now, interval)
	}
	return bucket
}

func align(ts, interval int64) int64 {
	if interval <= 0 {
		return ts
	}
	m := ts % interval
	if m < 0 {
		m += interval
	}
	return ts - m
}
