package partition

import "hash/fnv"

// Count is the fixed number of logical partitions.
// Never changes after initial deployment: workers own partitions, not accounts,
// so changing it would move accounts between workers.
const Count = 256

// For returns the partition ID for a given account ID.
// Stable and deterministic: same accountID always maps to the same partition.
func For(accountID string) int {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return int(h.Sum32() % Count)
}

// Owner returns the index of the worker owning partition p among n workers.
func Owner(p, n int) int {
	if n <= 0 {
		return 0
	}
	return p % n
}
