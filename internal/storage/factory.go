package storage

import "fmt"

// NewStore returns the backend named by kind. path is the database file for
// sqlite and the root directory for dir; memory ignores it.
func NewStore(kind, path string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "dir":
		if path == "" {
			return nil, fmt.Errorf("dir backend requires a root directory")
		}
		return NewDirStore(path), nil
	case "sqlite":
		return newSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
