package l2

import (
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// schemaVersion is bumped whenever the shape of what this package stores
// under keySchema/prefixData/prefixMeta changes incompatibly. spec §4.4
// requires probing the backing store's schema at open and, if
// incompatible, destroying and recreating it — L2 is ephemeral by
// contract, so this is safe. Spec §4.4 describes the probe against a
// SQL-backed store by column names ("size", "mode", "filename"); badger has no
// columns, so the equivalent probe here is a single schema-version record
// under a reserved key, which is functionally the same compatibility gate.
const schemaVersion = 1

var keySchema = []byte("s:schema")

// openWithSchemaCheck opens (or recreates) the badger store at path,
// wiping it first if the stored schema version doesn't match. It returns
// the opened DB.
func openWithSchemaCheck(path string, opts badger.Options, logger *zap.Logger) (*badger.DB, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	compatible, probeErr := probeSchema(db)
	if probeErr == nil && compatible {
		return db, nil
	}

	logger.Warn("l2 schema incompatible or unreadable, recreating store",
		zap.String("path", path), zap.Error(probeErr))

	if err := db.Close(); err != nil {
		logger.Warn("l2 close before recreate failed", zap.Error(err))
	}
	// Remove the store and every auxiliary file (WAL/value-log/MANIFEST/
	// LOCK) by wiping the whole directory; badger keeps all of its state
	// under a single base path so this is exhaustive.
	if path != "" {
		if err := os.RemoveAll(path); err != nil {
			return nil, err
		}
	}

	db, err = badger.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := writeSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func probeSchema(db *badger.DB) (bool, error) {
	var version int
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keySchema)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 1 {
				version = -1
				return nil
			}
			version = int(val[0])
			return nil
		})
	})
	if err != nil {
		return false, err
	}
	return version == schemaVersion, nil
}

func writeSchema(db *badger.DB) error {
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(keySchema, []byte{byte(schemaVersion)})
	})
}
