// Package postgres implements store.Store on PostgreSQL with pgx/v5.
//
// Jobs are claimed with UPDATE ... WHERE id IN (SELECT ... FOR UPDATE SKIP
// LOCKED), which also increments the delivery counter, so concurrent
// workers never receive the same job. The schema ships as embedded SQL
// files applied in filename order by Migrate.
package postgres
