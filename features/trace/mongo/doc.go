// Package mongo provides a MongoDB-backed implementation of the runtime trace
// store. Build the low-level client via features/trace/mongo/clients/mongo and
// pass it to NewStore, or call Register to install a lazy store provider on a
// registry so traces persist outside process memory.
package mongo
