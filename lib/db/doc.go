// Package db provides a standardized interface for the key-value engines that
// back a document store. It defines the KVDB interface that allows for consistent
// interaction with various storage engines while abstracting implementation details.
//
// The package focuses on:
//   - A unified interface for key-value operations (Set, SetIfUnset, Get, Has, Delete, Range)
//   - Feature discovery through capability flags
//   - Standardized snapshot persistence operations (Save, Load)
//   - Metadata reporting
//
// Key Components:
//
//   - KVDB Interface: The core interface that all engines must satisfy. The document
//     store (see lib/store/lstore) keeps every document record, every change feed entry
//     and every local document as a single KVDB entry, so the engine never needs to
//     understand documents.
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method. This allows callers to
//     discover supported operations at runtime.
//
//   - Implementation Identifiers: The Implementation type provides string constants
//     for different engines (currently "maple").
//
//   - Database Information: The DatabaseInfo structure reports the engine state,
//     including size estimates, entry count and implementation-specific metadata.
//
// Thread Safety:
//
//	All KVDB implementations must be safe for concurrent use. Single-key operations
//	are atomic. Multi-key atomicity is the responsibility of the caller.
package db
