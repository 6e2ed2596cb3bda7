// Package probe implements the unit of work the dispatch client runs: open a
// TCP connection, send one line, read one line back, close the connection.
//
// Exchange does this once. NewTask and Factory adapt it to the worker pool
// and the batch runner. Failures name the phase that failed (dial, write or
// read) through errors.OperationError.
package probe
