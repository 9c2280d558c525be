// Package schema implements the Schema Catalog: the wire document model,
// its compilation into a closed property variant, structural validation of
// record data, key and index templates, and version compatibility checks.
//
// A compiled Schema never changes. The Catalog holds every registered
// version of every type and accepts a new version only when it is strictly
// greater than the latest and every record valid under the latest remains
// valid under the new one.
package schema
