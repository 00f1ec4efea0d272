// Package pg connects photovault to PostgreSQL through a pgx connection pool
// and applies goose migrations shipped inside the binary.
//
// Connect retries the initial ping with linear backoff so that services
// restarting together do not stampede the database. Migrate bridges the pool
// to database/sql for goose and routes goose output through the
// application's slog logger.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	err = pg.Migrate(ctx, pool, pgstore.Migrations, cfg, log)
//
// The Is* helpers classify pgx errors by SQLSTATE.
package pg
