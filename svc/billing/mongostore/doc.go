// Package mongostore implements billing.Store on MongoDB.
//
// Documents carry a version counter; SwapUser and SwapSpace replace a
// document only while the stored version matches, and CommitStorage is a
// single conditional $inc so concurrent uploads cannot overshoot a space's
// storage ceiling. Identifiers are stored as canonical uuid strings.
//
//	db, err := mongo.Connect(ctx, cfg)
//	if err := mongostore.EnsureIndexes(ctx, db); err != nil { ... }
//	store := mongostore.New(db)
package mongostore
