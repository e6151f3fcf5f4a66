// Package loader owns the storage side of ingestion.
//
// Persist takes one cycle's batches keyed by table name and loads each table
// independently:
//
//  1. Provision: in replace mode DROP TABLE IF EXISTS then CREATE TABLE; in
//     append mode CREATE TABLE IF NOT EXISTS. Every table has the same four
//     columns: metric_name, labels (JSONB on Postgres, JSON text on SQLite),
//     value, timestamp (defaults to insertion time).
//  2. Insert every observation of the batch in one transaction.
//  3. On any failure roll back, record an Outcome wrapping ErrLoad and move
//     on to the next table.
//
// Replace mode discards each table's history every cycle. It is kept as the
// default because downstream queries expect one cycle of data per table;
// append mode is available for operators who want history.
//
// Tables of one cycle load concurrently up to the configured limit. Work on
// the same table name is serialised across cycles sharing a Loader.
package loader
