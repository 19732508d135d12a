// Package history keeps a SQLite log of device changes and command runs.
//
// The watch loop hands each changeset to Store.Listener and the runner
// reports each device result to Store.Reporter. The status API reads the
// log back through DeviceEvents, Events and Runs.
package history
