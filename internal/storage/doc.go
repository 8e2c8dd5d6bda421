// Package storage implements the hour-bucketed sample store.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Ingestion  │────▶│    Store    │────▶│ bucket files│
//	│  consumer   │     │ working set │     │  (.dat)     │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                           ▲
//	                           │ Range / Lookup
//	                    ┌─────────────┐
//	                    │  Sessions   │
//	                    └─────────────┘
//
// The timeline is split into hour buckets, one fixed-size array of int32
// slots per hour. A bounded working set of buckets lives in memory; a
// background cycle saves dirty buckets and evicts idle ones outside the
// hot window of recent hours. Every operation holds the store mutex for
// its full duration; callers copy data out and do socket I/O afterwards.
package storage
