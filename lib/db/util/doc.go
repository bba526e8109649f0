// Package util provides utility functions for
// database implementations that satisfy the db.KVDB interface.
//
// The package contains:
//   - functions: Seed generation and the FNV-1a based string hash used for shard
//     selection and for deriving stable identifiers (e.g. replication checkpoint ids)
package util
