// Package storage persists the refresh ledger: one record per refresh run and
// one per notification lifecycle step (dispatched, dropped, delivered).
//
// Drivers: "file" (JSON Lines, dependency-free) and "sqlite" (modernc.org/sqlite).
package storage
