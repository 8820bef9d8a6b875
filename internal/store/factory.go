package store

import "github.com/m-mizutani/goerr/v2"

func NewStore(kind, sqlitePath string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(sqlitePath), nil
	default:
		return nil, goerr.Wrap(ErrUnknownBackend, "create store", goerr.V("kind", kind))
	}
}
