// Package federation implements the inventory service: the schema
// catalog, referral map and path resolution across data services.
//
// The Service polls each configured store's GET /schema, merges the
// results in configuration order, and routes every data type to the last
// store that declared it. Traversal uses the same resolver as a single
// data service, with a source that switches store at each reference hop.
//
// Each call to a store is bounded by the hop timeout. A hop that times out
// or cannot connect is reported as UNAVAILABLE naming the store.
package federation
