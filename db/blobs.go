package db

import (
	"database/sql"
	"errors"
)

// ErrCapacityExceeded is returned by PutBlob when a write would push the
// total size of local_store past the configured capacity. Nothing is
// written when this happens; callers are expected to free space (evict)
// and retry.
var ErrCapacityExceeded = errors.New("local store capacity exceeded")

// GetBlob returns the value stored under key, or ("", false, nil) if the
// key does not exist.
func (d *DB) GetBlob(key string) (string, bool, error) {
	var value string
	err := d.sql.QueryRow("SELECT value FROM local_store WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// PutBlob stores value under key, enforcing the capacity budget over the
// total byte size of all stored values.
func (d *DB) PutBlob(key, value string) error {
	used, err := d.usedBytesExcluding(key)
	if err != nil {
		return err
	}

	if used+int64(len(value)) > d.capacityBytes {
		logger.Warn().
			Str("key", key).
			Int64("usedBytes", used).
			Int("writeBytes", len(value)).
			Int64("capacityBytes", d.capacityBytes).
			Msg("blob write rejected, capacity exceeded")
		return ErrCapacityExceeded
	}

	_, err = d.sql.Exec(`
		INSERT INTO local_store (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, NowMs())
	return err
}

// DeleteBlob removes the value stored under key
func (d *DB) DeleteBlob(key string) error {
	_, err := d.sql.Exec("DELETE FROM local_store WHERE key = ?", key)
	return err
}

// UsedBytes returns the total byte size of all stored blob values
func (d *DB) UsedBytes() (int64, error) {
	var used int64
	err := d.sql.QueryRow("SELECT COALESCE(SUM(LENGTH(value)), 0) FROM local_store").Scan(&used)
	return used, err
}

// usedBytesExcluding returns the stored size not counting the given key,
// so an overwrite is charged only for its new value.
func (d *DB) usedBytesExcluding(key string) (int64, error) {
	var used int64
	err := d.sql.QueryRow(
		"SELECT COALESCE(SUM(LENGTH(value)), 0) FROM local_store WHERE key != ?", key,
	).Scan(&used)
	return used, err
}
