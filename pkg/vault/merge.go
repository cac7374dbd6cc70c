package vault

// MergeReport describes the outcome of Merge.
type MergeReport struct {
	Added        int      `json:"added"`
	Duplicates   int      `json:"duplicates"`
	AddedIDs     []string `json:"added_ids,omitempty"`
	DuplicateIDs []string `json:"duplicate_ids,omitempty"`
}

// Merge appends incoming records whose id is not already present. Existing
// records keep their position and content; an incoming record with a known
// id is counted as a duplicate and dropped, even if its content differs.
func Merge(existing, incoming []KeyRecord) ([]KeyRecord, MergeReport) {
	var report MergeReport

	seen := make(map[string]bool, len(existing)+len(incoming))
	merged := make([]KeyRecord, 0, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = true
		merged = append(merged, r)
	}

	for _, r := range incoming {
		if seen[r.ID] {
			report.Duplicates++
			report.DuplicateIDs = append(report.DuplicateIDs, r.ID)
			continue
		}
		seen[r.ID] = true
		merged = append(merged, r)
		report.Added++
		report.AddedIDs = append(report.AddedIDs, r.ID)
	}

	return merged, report
}
