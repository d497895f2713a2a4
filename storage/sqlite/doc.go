// Package sqlite implements the durable checkpoint store on SQLite.
//
// Every source item gets one row recording its status (pending, processing,
// completed or failed), the time of its last attempt, its last error and its
// attempt count. Writes happen in small transactions over a single connection
// so a crash between two calls never leaves a half-written row. Items left in
// processing by an interrupted run are returned to pending by RecoverStale.
//
// Schema changes live in migrations/ as numbered .up.sql files and are applied
// in order when the store opens.
package sqlite
