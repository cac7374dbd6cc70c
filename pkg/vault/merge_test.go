package vault

import "testing"

func TestMerge(t *testing.T) {
	existing := []KeyRecord{
		{ID: "k1", Name: "one", PublicKey: "age1one"},
		{ID: "k2", Name: "two", PublicKey: "age1two"},
	}
	incoming := []KeyRecord{
		{ID: "k2", Name: "renamed", PublicKey: "age1other"},
		{ID: "k3", Name: "three", PublicKey: "age1three"},
	}

	merged, report := Merge(existing, incoming)

	if report.Added != 1 || report.Duplicates != 1 {
		t.Fatalf("report = %+v, want 1 added and 1 duplicate", report)
	}
	if len(report.AddedIDs) != 1 || report.AddedIDs[0] != "k3" {
		t.Errorf("AddedIDs = %v", report.AddedIDs)
	}
	if len(report.DuplicateIDs) != 1 || report.DuplicateIDs[0] != "k2" {
		t.Errorf("DuplicateIDs = %v", report.DuplicateIDs)
	}

	wantIDs := []string{"k1", "k2", "k3"}
	gotIDs := IDs(merged)
	if len(gotIDs) != len(wantIDs) {
		t.Fatalf("merged ids = %v, want %v", gotIDs, wantIDs)
	}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Errorf("merged[%d] = %s, want %s", i, gotIDs[i], wantIDs[i])
		}
	}

	// The existing record wins over a same-id incoming record.
	if merged[1].Name != "two" || merged[1].PublicKey != "age1two" {
		t.Errorf("existing record was overwritten: %+v", merged[1])
	}
}

func TestMergeDuplicateWithinIncoming(t *testing.T) {
	incoming := []KeyRecord{
		{ID: "x", PublicKey: "age1x"},
		{ID: "x", PublicKey: "age1x"},
	}

	merged, report := Merge(nil, incoming)
	if len(merged) != 1 {
		t.Errorf("len(merged) = %d, want 1", len(merged))
	}
	if report.Added != 1 || report.Duplicates != 1 {
		t.Errorf("report = %+v", report)
	}
}

func TestMergeEmpty(t *testing.T) {
	existing := []KeyRecord{{ID: "a", PublicKey: "age1a"}}
	merged, report := Merge(existing, nil)
	if len(merged) != 1 || report.Added != 0 || report.Duplicates != 0 {
		t.Errorf("merged = %v, report = %+v", merged, report)
	}
}
