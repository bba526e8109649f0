// Package testing provides a standardised test suite for database
// implementations that satisfy the db.KVDB interface.
//
// The suite checks the contract the document store relies on: copy semantics
// of Get and Set, atomic SetIfUnset, Range iteration with early termination and
// snapshot round-trips through Save and Load.
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() db.KVDB {
//		return NewMyDatabase()
//	}
//
//	// Running the standard test suite
//	dbtesting.RunKVDBTests(t, "MyDatabase", factory)
package testing
