// Package calibration searches the trim register of an internal RC oscillator
// for the value that brings its measured frequency closest to a target. It
// contains:
//
//   - Calibrator: the two search strategies, MinError and BoundedError
//   - Window: the bounded set of trim candidates around the factory value
//   - MinErrorResult and BoundedResult: the outcomes returned by the daemon
//     and printed by the CLI
//
// Hardware is reached only through the TrimRegister, Clock and Meter
// interfaces, so the same search runs against a simulated target, a serial
// bench fixture or real registers.
package calibration
