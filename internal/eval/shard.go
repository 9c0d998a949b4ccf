package eval

// ShardRange assigns rank a contiguous [start, end) slice of a dataset of
// total elements. The first total%worldSize ranks take one extra element, so
// shard sizes sum to total for every world size. Contiguous assignment keeps
// rank-order concatenation aligned with dataset order, which the metric
// aggregation depends on.
func ShardRange(total, rank, worldSize int) (start, end int) {
	base := total / worldSize
	extra := total % worldSize
	if rank < extra {
		start = rank * (base + 1)
		return start, start + base + 1
	}
	start = extra*(base+1) + (rank-extra)*base
	return start, start + base
}
