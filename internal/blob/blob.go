// Package blob is the object-store adapter: save/load/list/delete of
// JSON-serializable values under slash-separated names, backed either by a
// local directory or an S3-compatible bucket.
package blob

import "context"

// Store is the object-store surface the Cognition Store's save/load archive
// and the save-game listing depend on. A missing object is reported via
// (false, nil) from LoadJSON — not as an error.
type Store interface {
	SaveJSON(ctx context.Context, name string, value interface{}) error
	LoadJSON(ctx context.Context, name string, out interface{}) (found bool, err error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, name string) (bool, error)
}
