// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Sample: one sensor reading addressed by its log id
//   - SampleRate: one of the sampling rates the sensor firmware supports
//   - Timebase: log id / hour id arithmetic for a given rate
package types
