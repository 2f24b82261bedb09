package ingest

// DropDuplicates keeps the last row for every key. Kept rows stay in their
// original relative order. keyOf returns the key of row i.
func DropDuplicates(n int, keyOf func(i int) string) (keep []int, dropped int) {
	last := make(map[string]int, n)
	for i := 0; i < n; i++ {
		last[keyOf(i)] = i
	}

	keep = make([]int, 0, len(last))
	for i := 0; i < n; i++ {
		if last[keyOf(i)] == i {
			keep = append(keep, i)
		}
	}
	return keep, n - len(keep)
}
