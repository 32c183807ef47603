package storage

import (
	"context"
	"fmt"
	"path/filepath"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string `mapstructure:"backend"` // file | bolt | sqlite | mongo
	Path      string `mapstructure:"path"`
	MongoURI  string `mapstructure:"mongo_uri"`
	MongoDB   string `mapstructure:"mongo_db"`
	MongoColl string `mapstructure:"mongo_collection"`
}

func Open(ctx context.Context, o Options) (BlobStore, error) {
	switch o.Backend {
	case "", "file":
		return NewFileBlobStore(o.Path)
	case "bolt":
		return NewBoltStore(filepath.Join(o.Path, "vault.db"))
	case "sqlite":
		return NewSQLiteStore(filepath.Join(o.Path, "vault.sqlite"))
	case "mongo":
		db, coll := o.MongoDB, o.MongoColl
		if db == "" {
			db = "alohomora"
		}
		if coll == "" {
			coll = "blobs"
		}
		return NewMongoBlobStore(ctx, o.MongoURI, db, coll)
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", o.Backend)
	}
}
