// Package file stores uploaded photo and video blobs.
//
// Storage is the narrow contract the upload flow needs: put a blob under a
// key, check it, delete it and build its public URL. S3Storage targets
// Amazon S3 and S3-compatible services (MinIO, R2) through aws-sdk-go-v2;
// MemoryStorage backs tests and local runs.
//
// Keys are slash-separated and relative; CleanKey rejects absolute paths
// and traversal segments before any backend sees them.
//
//	var cfg file.S3Config
//	config.MustLoad(&cfg)
//	store, err := file.NewS3Storage(ctx, cfg)
//	obj, err := store.Put(ctx, "spaces/"+spaceID+"/"+name, r, size, "image/jpeg")
//
// S3 failures are classified into the sentinels in errors.go so callers can
// tell a missing object from throttling without importing smithy.
package file
