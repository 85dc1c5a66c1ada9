// Package sqlite persists calibration profiles and the raw device log in a
// local SQLite database.
//
// Every calibration run is kept; the profile of a device is its most recent
// run. The device log is an append-only record of tracked samples that backs
// the last-seen listing and is pruned by the maintenance job.
package sqlite
