// Package mongo connects photovault to MongoDB using the official v2 driver.
//
// Connect retries the initial ping so the process tolerates a database that
// starts after it; the wait honours the caller's context. EnsureIndexes
// creates the indexes a store declares, and the error helpers classify
// driver errors without leaking driver types to callers.
//
//	var cfg mongo.Config
//	config.MustLoad(&cfg)
//	db, err := mongo.Connect(ctx, cfg)
package mongo
