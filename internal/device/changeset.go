package device

// Diff computes the changeset between an older and a newer snapshot.
//
// Removed and Changed follow the order of old; Added follows the order of
// new. Records are compared with Equal on raw field values, so a device whose
// fields are identical in both snapshots never shows up as changed.
func Diff(old, next Snapshot) Changeset {
	cs := Changeset{
		Added:   []Record{},
		Removed: []Record{},
		Changed: []Record{},
	}

	for _, id := range old.order {
		prev := old.records[id]
		cur, ok := next.records[id]
		if !ok {
			cs.Removed = append(cs.Removed, prev)
			continue
		}
		if !prev.Equal(cur) {
			cs.Changed = append(cs.Changed, cur)
		}
	}

	for _, id := range next.order {
		if _, ok := old.records[id]; !ok {
			cs.Added = append(cs.Added, next.records[id])
		}
	}

	return cs
}
