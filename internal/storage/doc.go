// Package storage provides the durable Task Store.
//
// Every backend persists one record per application identity:
//   - tasks: the ordered task collection, always replaced as a whole
//   - notifierConfig: opaque delivery settings, absent until configured
//
// Drivers: "file" (default), "sqlite", "redis", "memory".
package storage
