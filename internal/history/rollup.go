package history

import (
	"context"
	"math"
	"sort"
	"time"
)

// Bucket summarises the required field of one stream over [Start, Start+width).
type Bucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
	Mean  float64   `json:"mean"`
	Min   float64   `json:"min"`
	Max   float64   `json:"max"`
}

// Rollup groups the window into fixed buckets aligned on the window start,
// oldest first. Empty buckets are left out. A non-positive width yields a
// single bucket for the whole window.
func (s *Service) Rollup(ctx context.Context, stream, startRaw, endRaw string, width time.Duration) ([]Bucket, error) {
	sc, start, rs, err := s.window(ctx, stream, startRaw, endRaw)
	if err != nil {
		return nil, err
	}
	if len(rs) == 0 {
		return []Bucket{}, nil
	}

	field := sc.RequiredField()

	type acc struct {
		n             int
		sum, min, max float64
	}
	byIdx := make(map[int64]*acc)
	for _, r := range rs {
		var idx int64
		if width > 0 {
			idx = int64(r.Time.Sub(start) / width)
		}
		v := r.Fields[field]
		a, ok := byIdx[idx]
		if !ok {
			a = &acc{min: math.Inf(1), max: math.Inf(-1)}
			byIdx[idx] = a
		}
		a.n++
		a.sum += v
		a.min = math.Min(a.min, v)
		a.max = math.Max(a.max, v)
	}

	out := make([]Bucket, 0, len(byIdx))
	for idx, a := range byIdx {
		out = append(out, Bucket{
			Start: start.Add(time.Duration(idx) * width),
			Count: a.n,
			Mean:  a.sum / float64(a.n),
			Min:   a.min,
			Max:   a.max,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
