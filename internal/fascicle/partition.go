package fascicle

import "sort"

// Partition sorts ids and splits them into parts contiguous chunks of at
// most ceil(n/parts) IDs. Trailing chunks may be empty.
func Partition(ids []int, parts int) [][]int {
	if parts <= 0 {
		return nil
	}
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)

	chunks := make([][]int, parts)
	size := (len(sorted) + parts - 1) / parts
	for i := range chunks {
		start := min(i*size, len(sorted))
		end := min(start+size, len(sorted))
		chunks[i] = sorted[start:end]
	}
	return chunks
}
