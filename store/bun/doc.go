// Package bunstore implements store.Store on the Bun ORM with the
// PostgreSQL dialect. Tables and columns match store/postgres.
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	s := bunstore.New(db)
//	if err := s.Migrate(ctx); err != nil { ... }
//
// The caller owns the *bun.DB; Close is a no-op.
package bunstore
