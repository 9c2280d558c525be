// Package httpapi serves the data service and the inventory service over
// HTTP with chi.
//
// DATA SERVICE ROUTES:
//
//	GET    /schema                         latest document of every local type
//	GET    /schema/{type}?version=         one document, archived versions included
//	POST   /                               create a record; type "schema" registers
//	GET    /{type}                         ids in binary order
//	GET    /{type}/{id}[/path]             record or path query
//	PUT    /{type}/{id}                    replace data, optionally moving version
//	PATCH  /{type}/{id}/path               set or insert; empty body or null removes
//	DELETE /{type}/{id}
//	GET    /journal                        keys with entries
//	GET    /journal/{pageId}
//	GET    /journal/{type}/{id}?archived=
//	POST   /journal/{type}/{id}/{page}/{seq}/ack?consumer=
//	GET    /metrics
//
// The read-only types "schema" and "cmtIdx" are served by the generic
// /{type} and /{type}/{id} routes.
//
// INVENTORY SERVICE ROUTES:
//
//	GET  /schema, /schema/{type}
//	GET  /inventory, /inventory/{store}
//	GET  /referral, /referral/{type}
//	POST /sync
//	GET  /{type}, /{type}/{id}[/path]
//	GET  /metrics
//
// Path queries accept the modifiers schema, flat, iterator and ref as query
// parameters. Errors are written as {"code","message","path"} with the
// status given by StatusOf.
package httpapi
