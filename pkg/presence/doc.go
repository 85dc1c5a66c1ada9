// Package presence turns a stream of RSSI samples into debounced presence
// state per device.
//
// Store is the authoritative map from device to State. Each device has its
// own critical section, so updates for different devices never contend and
// readers never see a half-applied update.
//
// Tracker is the sole writer of the Store. For every sample it smooths the
// signal, compares it against the device's calibrated reference and commits
// a status change only after the change has been seen on DebounceCount
// consecutive samples. A periodic Sweep forces silent devices to Absent.
package presence
