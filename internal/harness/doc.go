// Package harness runs YAML scenarios against an in-process UniTAO
// cluster and compares the resulting traces with golden files.
//
// # Scenario Format
//
//	name: host_disk_index
//	description: "Disks are indexed into their host"
//	stores:
//	  - name: data
//	    specs: [../specs/hosts.cue, ../specs/disks.cue]
//	setup:
//	  - op: create
//	    type: VmHost
//	    data: {name: h1}
//	flow:
//	  - op: create
//	    type: VirtualHardDisk
//	    data: {name: d0, host: h1}
//	  - op: get
//	    type: VmHost
//	    id: h1
//	    expect:
//	      result: {data: {virtualHardDisk: [d0]}}
//	assertions:
//	  - type: record
//	    record: VmHost/h1
//	    expect: {virtualHardDisk: [d0]}
//
// Every store is a data service over an in-memory SQLite database with
// its own CmtIndex engine. With more than one store the services are
// served over loopback HTTP and joined by an inventory service, so
// references, traversal and index writes cross stores the way they do in
// a deployment.
//
// Spec paths are relative to the scenario file. Each spec is a CUE file
// whose top-level schema field holds the documents to register.
//
// # Steps
//
// Each step names an op:
//
//   - register: register the documents of spec with the store
//   - create, replace, patch, delete: write a record
//   - get, list: read records; type cmtIdx reads index state
//   - resolve: walk path from a record; store "inventory" resolves
//     through the inventory service
//   - sync: re-poll every store from the inventory service
//
// A step without a store runs on the store hosting its type. After every
// step the engines are drained until the cluster is quiet, so each step
// observes the index effects of the previous one.
//
// Setup steps must succeed and are not traced. Flow steps are traced; a
// step without expect must succeed, otherwise expect names the error
// code or a subset of the result.
//
// # Assertion Types
//
//   - record: the record's data contains expect, or the record is absent
//   - journal: the record's journal holds exactly the listed ops
//   - index: the cmtIdx registry of a target type contains expect
//   - trace_contains: a traced step matches op, target and outcome
//   - trace_count: op appears exactly count times in the trace
package harness
