// Package stores provides the SQLite persistence layer of orchestra: servers,
// routes, backend logs and backend operations. Schema changes are embedded
// migrations applied with golang-migrate.
package stores
