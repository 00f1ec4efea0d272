// Package upload stores photos and videos in a space while keeping the
// space's storage usage in step with what was actually written.
//
// The flow for one upload is: validate, pre-check capacity, commit the
// bytes atomically against the space ceiling, write the blob, then record
// the content item. A failed write or record hands the committed bytes back
// with billing.Quota.Release, so concurrent uploads can never push a space
// past its ceiling and a failed upload never leaks usage.
//
//	svc := upload.NewService(quota, store, blobs, upload.WithLogger(log))
//	item, err := svc.Upload(ctx, upload.Request{SpaceID: id, UserID: uid, Filename: "a.jpg", Size: n, Body: r})
//
// MountRoutes exposes the same flow over HTTP.
package upload
