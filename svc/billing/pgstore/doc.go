// Package pgstore implements billing.Store on PostgreSQL with pgx.
//
// The schema ships as goose migrations in Migrations. Rows carry a version
// column: SwapUser and SwapSpace update only while the version matches,
// and CommitStorage is one conditional UPDATE so the storage ceiling holds
// under concurrent uploads. Optional gateway references are stored as NULL
// and read back as empty strings.
//
//	pool, err := pg.Connect(ctx, cfg)
//	err = pg.Migrate(ctx, pool, pgstore.Migrations, cfg, log)
//	store := pgstore.New(pool)
package pgstore
