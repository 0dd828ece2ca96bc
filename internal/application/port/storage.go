package port

import "context"

// FileStorage stores generated exports (audit workbooks, plan dumps) under a base directory
type FileStorage interface {
	Save(ctx context.Context, path string, content []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) bool
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, dir string) ([]string, error)
	GetFullPath(relativePath string) string
}
