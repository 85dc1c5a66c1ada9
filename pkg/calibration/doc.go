// Package calibration derives the reference RSSI of a beacon from a bounded
// collection window. It contains:
//
//   - Accumulator: running mean and sample variance in double precision
//   - Calibrator: collects one device's samples through an exclusive
//     dispatcher tap until the time budget elapses
//   - Result: the immutable outcome of a run, superseded by later runs
//
// The reference is later used by the presence tracker as the "near"
// baseline of the device.
package calibration
