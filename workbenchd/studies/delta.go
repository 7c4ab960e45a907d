package studies

import "github.com/researchspace/workbench/util/slice"

// Delta classifies the users impacted by an update request into three
// disjoint sets. Admin-level entries are excluded: admin changes never
// trigger resource-level propagation on their own.
type Delta struct {
	// Allowed holds uids being granted access.
	Allowed []string
	// Disallowed holds uids losing access entirely.
	Disallowed []string
	// Changed holds uids whose level is changing, not being added or
	// removed outright.
	Changed []string
}

// Classify partitions the request's non-admin uids. The three sets are
// pairwise disjoint and their union is the impacted non-admin uid set.
func Classify(req UpdateRequest) Delta {
	var addIDs, removeIDs []string
	for _, e := range req.UsersToAdd {
		if e.Level == PermissionLevelAdmin {
			continue
		}
		addIDs = slice.Insert(addIDs, e.UID)
	}
	for _, e := range req.UsersToRemove {
		if e.Level == PermissionLevelAdmin {
			continue
		}
		removeIDs = slice.Insert(removeIDs, e.UID)
	}
	return Delta{
		Allowed:    slice.Difference(addIDs, removeIDs),
		Disallowed: slice.Difference(removeIDs, addIDs),
		Changed:    slice.Intersection(addIDs, removeIDs),
	}
}
