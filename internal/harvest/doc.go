// Package harvest defines the core types, interfaces and error taxonomy shared
// by the fetch engine, the catalog, the worker pool and the output sink.
package harvest
