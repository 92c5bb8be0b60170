package services

import (
	"database/sql"
	"errors"
	"fmt"
)

// Reorder failure modes. All of them reject the request as a whole: a failed
// reorder never moves anything.
var (
	ErrEmptyReorder      = errors.New("reorder requires at least one id")
	ErrDuplicateReorder  = errors.New("reorder contains a duplicate id")
	ErrUnknownReorderID  = errors.New("reorder references an unknown id")
	ErrIncompleteReorder = errors.New("reorder must include every id in the collection")
)

// orderedCollection maintains a dense zero-based display_order over one
// table. Every mutation takes the collection's advisory lock first, so
// concurrent creates and deletes serialize and the ordering stays contiguous
// with no duplicate positions.
type orderedCollection struct {
	table   string
	lockKey int64
}

var (
	accountOrdering  = orderedCollection{table: "accounts", lockKey: 0x5e01}
	categoryOrdering = orderedCollection{table: "categories", lockKey: 0x5e02}
)

func (oc orderedCollection) lock(tx *sql.Tx) error {
	if _, err := tx.Exec("SELECT pg_advisory_xact_lock($1)", oc.lockKey); err != nil {
		return fmt.Errorf("lock %s ordering: %w", oc.table, err)
	}
	return nil
}

// nextDisplayOrder reserves the position one past the current maximum
func (oc orderedCollection) nextDisplayOrder(tx *sql.Tx) (int, error) {
	if err := oc.lock(tx); err != nil {
		return 0, err
	}
	var next int
	query := fmt.Sprintf("SELECT COALESCE(MAX(display_order), -1) + 1 FROM %s", oc.table)
	if err := tx.QueryRow(query).Scan(&next); err != nil {
		return 0, fmt.Errorf("next display order for %s: %w", oc.table, err)
	}
	return next, nil
}

// compactAfterDelete closes the gap left by a deleted record: everything that
// sat above it slides down one position
func (oc orderedCollection) compactAfterDelete(tx *sql.Tx, removedOrder int) error {
	if err := oc.lock(tx); err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET display_order = display_order - 1 WHERE display_order > $1", oc.table)
	if _, err := tx.Exec(query, removedOrder); err != nil {
		return fmt.Errorf("compact %s display order: %w", oc.table, err)
	}
	return nil
}

// reorder replaces the collection's entire ordering with the given sequence.
// The id list must be a complete permutation of the collection: empty lists,
// duplicates, unknown ids and missing ids all fail before anything moves.
func (oc orderedCollection) reorder(tx *sql.Tx, ids []int64) error {
	if len(ids) == 0 {
		return ErrEmptyReorder
	}

	requested := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if requested[id] {
			return fmt.Errorf("%w: %d", ErrDuplicateReorder, id)
		}
		requested[id] = true
	}

	if err := oc.lock(tx); err != nil {
		return err
	}

	rows, err := tx.Query(fmt.Sprintf("SELECT id FROM %s", oc.table))
	if err != nil {
		return fmt.Errorf("list %s ids: %w", oc.table, err)
	}
	defer rows.Close()

	existing := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan %s id: %w", oc.table, err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list %s ids: %w", oc.table, err)
	}

	for id := range requested {
		if !existing[id] {
			return fmt.Errorf("%w: %d", ErrUnknownReorderID, id)
		}
	}
	if len(ids) != len(existing) {
		return ErrIncompleteReorder
	}

	update := fmt.Sprintf("UPDATE %s SET display_order = $1, updated_at = now() WHERE id = $2", oc.table)
	for position, id := range ids {
		if _, err := tx.Exec(update, position, id); err != nil {
			return fmt.Errorf("reorder %s: %w", oc.table, err)
		}
	}
	return nil
}
