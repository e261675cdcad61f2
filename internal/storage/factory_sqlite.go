//go:build sqlite

package storage

// DefaultStoreKind is the backend used when none is configured.
func DefaultStoreKind() string { return KindSQLite }

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}
