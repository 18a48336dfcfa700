package alert

import (
	"math"
	"time"
)

const windowMinutes = 60

type minMaxBucket struct {
	min, max float32
	count    int
}

func emptyBucket() minMaxBucket {
	return minMaxBucket{min: math.MaxFloat32, max: -math.MaxFloat32}
}

// RollingMinMax tracks readings over the last hour in one-minute buckets.
// The device watermarks are rearmed, so this is what the console reports as the hourly range.
type RollingMinMax struct {
	buckets [windowMinutes]minMaxBucket
	last    int64 // unix minute of the newest bucket, 0 = empty
}

// NewRollingMinMax creates an empty window
func NewRollingMinMax() *RollingMinMax {
	r := &RollingMinMax{}
	for i := range r.buckets {
		r.buckets[i] = emptyBucket()
	}
	return r
}

// Observe records a sample's current value at the sample's time.
// Zero readings are ignored: they are what a failed first read looks like.
func (r *RollingMinMax) Observe(s Sample) {
	if s.Current <= 0 {
		return
	}
	r.Update(s.Current, s.Time)
}

// Update records value at t. Values older than the newest bucket are dropped.
func (r *RollingMinMax) Update(value float32, t time.Time) {
	minute := t.Unix() / 60
	if r.last != 0 && minute < r.last {
		return
	}

	if r.last != 0 && minute != r.last {
		gap := minute - r.last
		if gap > windowMinutes {
			gap = windowMinutes
		}
		// clear the skipped minutes, wrapping around the ring
		for i := int64(1); i <= gap; i++ {
			r.buckets[(r.last+i)%windowMinutes] = emptyBucket()
		}
	}
	r.last = minute

	b := &r.buckets[minute%windowMinutes]
	b.min = min(b.min, value)
	b.max = max(b.max, value)
	b.count++
}

// Min returns the lowest value in the window, or 0 if there is none
func (r *RollingMinMax) Min() float32 {
	result := float32(math.MaxFloat32)
	for _, b := range r.buckets {
		result = min(result, b.min)
	}
	if result == math.MaxFloat32 {
		return 0
	}
	return result
}

// Max returns the highest value in the window, or 0 if there is none
func (r *RollingMinMax) Max() float32 {
	result := float32(-math.MaxFloat32)
	for _, b := range r.buckets {
		result = max(result, b.max)
	}
	if result == -math.MaxFloat32 {
		return 0
	}
	return result
}

// Count returns how many readings the window holds
func (r *RollingMinMax) Count() int {
	n := 0
	for _, b := range r.buckets {
		n += b.count
	}
	return n
}
