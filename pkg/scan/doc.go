// Package scan defines the signal samples consumed by beacon and the sources
// that produce them. Radio access itself is left to external scanners; this
// package only reads what they emit:
//
//   - ReaderSource: newline-delimited samples from a file, FIFO, stdin or the
//     stdout of a scanner process, reopened after failures
//   - PushSource: samples pushed in-process, e.g. by the HTTP ingest endpoint
//   - Dispatcher: routes every drained sample to exactly one consumer, either
//     the presence tracker or an exclusive calibration tap
package scan
