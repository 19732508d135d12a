// Package device models the Android devices visible through adb and detects
// how that set changes over time.
//
// # Architecture
//
//	┌──────────────┐   raw text   ┌──────────────────┐  Snapshot  ┌────────────┐
//	│ Source       │─────────────▶│ ParseDeviceList  │───────────▶│  Registry  │
//	│ (adb devices)│              │   (parser.go)    │            │            │
//	└──────────────┘              └──────────────────┘            │ old ──┐    │
//	                                                              │ new ──┴─▶ Diff ──▶ Changeset
//	                                                              └────────────┘
//
// # Key Types
//
//   - Record: One device line (id, status, product, model, device)
//   - Snapshot: Immutable set of records keyed by id
//   - Changeset: Added, removed and changed records between two snapshots
//   - Registry: Holds the current snapshot and turns refreshes into changesets
//
// # Usage
//
//	reg, err := device.NewRegistry(ctx, bridge.ListDevices, log)
//	if err != nil {
//	    return err
//	}
//
//	for _, d := range reg.Online() {
//	    fmt.Println(d.StatusString())
//	}
//
//	cs, err := reg.Refresh(ctx)
//	if err == nil && !cs.Empty() {
//	    // react to cs.Added, cs.Removed, cs.Changed
//	}
//
// # Thread Safety
//
// Snapshots and records are values and are never mutated after construction.
// The Registry serialises Refresh and hands out copies to readers.
package device
