// Package storage provides the minimal blob operations the service needs on
// its configured storage container: staging inline task content and listing
// workflow execution directories. Byte-level transfer of task files is the
// transfer helper's job, not this package's.
package storage

import "context"

// Container is the seam to the blob store; tests substitute a fake.
type Container interface {
	// Upload writes content under name and returns a time-bounded URL the
	// transfer helper can download it from.
	Upload(ctx context.Context, name string, content []byte) (string, error)

	// List returns the names of blobs under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
