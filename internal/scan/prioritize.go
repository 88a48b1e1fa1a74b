package scan

import (
	"sort"

	"viralscan/internal/storage"
)

// Prioritize orders accounts for the next scan pass: accounts with no ledger
// entry come first in their given order, followed by checked accounts from
// oldest to most recently checked. The sort is stable, so equal timestamps
// keep their input order.
func Prioritize(usernames []string, history map[string]storage.CheckEntry) []string {
	out := append([]string(nil), usernames...)
	sort.SliceStable(out, func(i, j int) bool {
		ei, iOK := history[out[i]]
		ej, jOK := history[out[j]]
		if !iOK || !jOK {
			return !iOK && jOK
		}
		return ei.LastCheckedAt.Before(ej.LastCheckedAt)
	})
	return out
}
