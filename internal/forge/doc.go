// Package forge defines the core types and collaborator interfaces shared by
// the article generation subsystems: jobs, persisted posts, source candidates,
// the error-kind taxonomy and the source-key helpers used for deduplication.
//
// Concrete adapters (Postgres, GCS, Pub/Sub, provider HTTP clients) live in
// their own packages and satisfy the interfaces declared here.
package forge
