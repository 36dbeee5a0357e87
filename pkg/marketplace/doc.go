// Package marketplace implements extension publication for bazaar.
//
// # Overview
//
// Publishers register once per identity, create extensions, upload versioned
// bundles and publish them. Consumers read the catalog, rate extensions and
// download bundles through short-lived signed URLs.
//
// # Lifecycle
//
// Extensions start in draft and become published only as a side effect of
// their first version publish. Versions start in draft; PublishVersion moves
// one draft to published and, in the same transaction, publishes the
// extension if it was still a draft.
//
// Version strings must be semantic versions. A new version must be greater
// than every version the extension has published, checked at upload and
// again at publish. Drafts are not compared with each other.
//
// # Bundles
//
// A bundle is stored at {publisher}/{extension}/{version}.zip and never
// overwritten. Its SHA-256 is kept on the version and returned with every
// download URL so clients can verify what they fetch.
//
// # Aggregates
//
// Review writes recompute average_rating (mean*100, rounded) and
// review_count in a single statement. Downloads append an event and
// increment counters atomically in one transaction, off the request path.
//
// # Usage Example
//
//	svc := marketplace.NewService(db, blobs, logger, marketplace.Config{},
//		marketplace.WithCache(c),
//		marketplace.WithDownloadPool(pool),
//	)
//	ext, err := svc.CreateExtension(ctx, publisher.ID, marketplace.CreateExtensionRequest{
//		Slug:      "tool",
//		PublicKey: "pk1",
//		Name:      "Tool",
//	})
//	v, err := svc.CreateVersion(ctx, publisher.ID, "tool", marketplace.CreateVersionRequest{
//		Version:  "1.0.0",
//		Bundle:   zipBytes,
//		Manifest: `{"name": "tool"}`,
//	})
//	v, err = svc.PublishVersion(ctx, publisher.ID, "tool", "1.0.0")
//
// # Related Packages
//
//   - pkg/auth: credentials; Service implements auth.KeyStore
//   - pkg/storage/blob: bundle storage
//   - pkg/storage/sqldb: schema and transactions
package marketplace
