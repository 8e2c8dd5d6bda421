// Package parquet exports hour buckets to Parquet files and reads them back.
//
// The package provides:
//   - SampleWriter for sample rows, Each/ReadFile to read them back
//   - ExportHours, which streams a range of hours out of the store and
//     checks the result with Verify before it is renamed into place
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
package parquet
