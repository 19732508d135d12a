package device

// Status is the connection state adb reports for a device.
type Status string

// Statuses recognised in the `adb devices -l` report.
const (
	StatusDevice       Status = "device"
	StatusEmulator     Status = "emulator"
	StatusOffline      Status = "offline"
	StatusUnauthorized Status = "unauthorized"
	StatusNoDevice     Status = "no device"
	StatusUnknown      Status = ""
)

// knownStatuses is the set of status tokens the parser accepts.
var knownStatuses = map[Status]struct{}{
	StatusDevice:       {},
	StatusEmulator:     {},
	StatusOffline:      {},
	StatusUnauthorized: {},
	StatusNoDevice:     {},
}

// IsKnown reports whether s is one of the statuses adb reports.
func (s Status) IsKnown() bool {
	_, ok := knownStatuses[s]
	return ok
}

// Record is one device as reported by adb at one point in time.
//
// Records are plain values. Every refresh builds new records; nothing ever
// mutates a record that has been handed out. Descriptive fields that adb
// does not report (offline and unauthorized devices) are the empty string.
type Record struct {
	ID      string `json:"id"`
	Status  Status `json:"status"`
	Product string `json:"product"`
	Model   string `json:"model"`
	Device  string `json:"device"`
}

// IsOnline reports whether adb can currently talk to the device.
func (r Record) IsOnline() bool {
	return r.Status == StatusDevice || r.Status == StatusEmulator
}

// IsEmulator reports whether the device is an emulator.
func (r Record) IsEmulator() bool {
	return r.Status == StatusEmulator
}

// Equal reports whether all five fields of r and other match.
// Change detection relies on this, not on identity.
func (r Record) Equal(other Record) bool {
	return r.ID == other.ID &&
		r.Status == other.Status &&
		r.Product == other.Product &&
		r.Model == other.Model &&
		r.Device == other.Device
}

// StatusString renders the record as "<id> (<model>)", falling back to the
// status when no model is known, e.g. "001991674c709e (unauthorized)".
func (r Record) StatusString() string {
	label := r.Model
	if label == "" {
		label = string(r.Status)
	}
	return r.ID + " (" + label + ")"
}

// Snapshot is the set of devices visible at one point in time, keyed by id.
//
// A Snapshot is immutable once built. It remembers the order in which ids
// were first reported so listings are stable; the order carries no meaning
// for diffing. The zero value is an empty snapshot.
type Snapshot struct {
	order   []string
	records map[string]Record
}

// NewSnapshot builds a snapshot from records. When an id repeats, the later
// record replaces the earlier one and keeps the earlier position.
func NewSnapshot(records ...Record) Snapshot {
	s := Snapshot{
		order:   make([]string, 0, len(records)),
		records: make(map[string]Record, len(records)),
	}
	for _, r := range records {
		if _, exists := s.records[r.ID]; !exists {
			s.order = append(s.order, r.ID)
		}
		s.records[r.ID] = r
	}
	return s
}

// Len returns the number of devices in the snapshot.
func (s Snapshot) Len() int {
	return len(s.order)
}

// Get returns the record for id.
func (s Snapshot) Get(id string) (Record, bool) {
	r, ok := s.records[id]
	return r, ok
}

// Has reports whether id is present.
func (s Snapshot) Has(id string) bool {
	_, ok := s.records[id]
	return ok
}

// IDs returns the device ids in report order.
func (s Snapshot) IDs() []string {
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids
}

// Records returns all records in report order.
func (s Snapshot) Records() []Record {
	return s.Filter(nil)
}

// Filter returns the records for which keep returns true, in report order.
// A nil keep selects every record.
func (s Snapshot) Filter(keep func(Record) bool) []Record {
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		r := s.records[id]
		if keep == nil || keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// Changeset is the difference between two consecutive snapshots.
// A device id appears in at most one of the three lists.
type Changeset struct {
	// Added holds devices present only in the newer snapshot.
	Added []Record `json:"added"`
	// Removed holds the last known value of devices that disappeared.
	Removed []Record `json:"removed"`
	// Changed holds the new value of devices whose fields differ.
	Changed []Record `json:"changed"`
}

// Empty reports whether nothing was added, removed or changed.
func (c Changeset) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Len returns the total number of entries across all three lists.
func (c Changeset) Len() int {
	return len(c.Added) + len(c.Removed) + len(c.Changed)
}

// HasArrivals reports whether any device was added or changed, which is
// what callers re-running a command care about.
func (c Changeset) HasArrivals() bool {
	return len(c.Added) > 0 || len(c.Changed) > 0
}
