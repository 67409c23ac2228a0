// Package core provides the business logic for versioned table transforms.
//
// This package ties the engine packages together and is independent of any
// transport. It is used by the web handlers and the tabula CLI.
//
// # Architecture
//
//   - Service: the entry point for uploads, translations, applies and
//     version inspection. Every transform runs under the [Limiter].
//   - Pipeline: [RunPipeline] applies a list of operations in memory through
//     the same validate and execute path, without storing anything.
//   - Errors: [MapError] turns fault kinds into user messages with support
//     codes.
//
// # Versions
//
// An upload creates a root version. Each successful apply creates exactly
// one child whose bytes are encoded in the parent's format; a failed apply
// creates nothing. Stored versions are never modified.
//
//	up, err := svc.Upload(ctx, "sales.csv", data)
//	res, err := svc.Apply(ctx, up.VersionID, operation.Filter("Region == \"West\""))
//	dl, err := svc.Download(ctx, res.NewVersionID)
//
// # Concurrency
//
// Decoded datasets are shared between concurrent readers of the same
// version and must not be mutated. Concurrent applies to one parent fork
// into siblings, or fail with BranchConflict under the linear policy.
package core
