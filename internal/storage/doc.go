// Package storage persists accounts, check-in audit logs and the key/value
// configuration table.
//
// One database/sql implementation serves every driver; dialect differences
// (placeholders, schema, time encoding, connection setup) live in a small
// dialect value per driver. Schemas are embedded and applied idempotently on
// open.
package storage
