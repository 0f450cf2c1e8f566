package transform

import (
	"github.com/energitech/consolidator/internal/model"
)

// Deduplicate collapses batch to one record per (asset, timestamp). The last
// occurrence of a key wins outright; the output keeps first-seen key order.
func Deduplicate(batch []model.Measurement) []model.Measurement {
	idx := make(map[model.Key]int, len(batch))
	out := make([]model.Measurement, 0, len(batch))
	for _, m := range batch {
		k := m.Key()
		if i, ok := idx[k]; ok {
			out[i] = m
			continue
		}
		idx[k] = len(out)
		out = append(out, m)
	}
	return out
}
