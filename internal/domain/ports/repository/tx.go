package repository

// Tx is an infra-defined transaction handle (pgx.Tx for Postgres).
// Repositories MUST accept NoTX and run outside a transaction.
type Tx interface{}

var NoTX interface{}
