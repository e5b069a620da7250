package id

import "sort"

func sortByCloseness(ids []Id, target Id) {
	sort.Slice(ids, func(i, j int) bool {
		return CloserTo(ids[i], ids[j], target)
	})
}
