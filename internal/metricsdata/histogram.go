package metrics

import (
	"math"
	"sort"
)

// Bucket is one cumulative histogram bucket: the upper bound and the
// number of samples at or below it.
type Bucket struct {
	LE    float64
	Count float64
}

// Quantile approximates Prometheus histogram_quantile over cumulative
// buckets using linear interpolation inside the matched bucket. The
// +Inf bucket resolves to the previous finite boundary. Returns false
// when the histogram carries no samples.
func Quantile(q float64, buckets []Bucket) (float64, bool) {
	if len(buckets) == 0 {
		return 0, false
	}

	sorted := append([]Bucket(nil), buckets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LE < sorted[j].LE })

	total := sorted[len(sorted)-1].Count
	if total <= 0 {
		return 0, false
	}

	rank := q * total
	prevLE, prevCount := 0.0, 0.0
	for _, b := range sorted {
		if b.Count >= rank {
			if math.IsInf(b.LE, 1) {
				return prevLE, true
			}
			width := b.Count - prevCount
			if width <= 0 {
				return b.LE, true
			}
			return prevLE + (b.LE-prevLE)*((rank-prevCount)/width), true
		}
		prevLE = b.LE
		prevCount = b.Count
	}
	return sorted[len(sorted)-1].LE, true
}
