package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/database"
)

// History query bounds.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Repository defines device persistence for one endpoint.
// Implementations must make each method a single atomic write.
type Repository interface {
	// List returns every device in registration order.
	List(ctx context.Context) ([]LogicalDevice, error)

	// GetByID returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*LogicalDevice, error)

	// Create inserts d and assigns its registration order and timestamps.
	// Returns ErrDeviceExists if the ID is taken.
	Create(ctx context.Context, d *LogicalDevice) error

	// Delete removes a device and its history.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// Rename changes a device name.
	// Returns ErrDeviceNotFound if the device does not exist.
	Rename(ctx context.Context, id, name string, at time.Time) error

	// ApplyStates writes every change in one transaction.
	// Returns ErrDeviceNotFound (and writes nothing) if any device is missing.
	ApplyStates(ctx context.Context, changes []StateChange, at time.Time) error

	// History returns recent state changes for a device, newest first.
	History(ctx context.Context, id string, limit int) ([]HistoryEntry, error)

	// SaveEndpointInfo replaces the endpoint info row.
	SaveEndpointInfo(ctx context.Context, info EndpointInfo) error

	// EndpointInfo returns ErrEndpointInfoMissing if none was saved.
	EndpointInfo(ctx context.Context) (*EndpointInfo, error)
}

// SQLiteRepository implements Repository on one endpoint's SQLite file.
type SQLiteRepository struct {
	db *database.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *database.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, seq, name, input_channel, output_channels,
	logical_state, pending_state, created_at, updated_at`

// List returns every device in registration order.
func (r *SQLiteRepository) List(ctx context.Context) ([]LogicalDevice, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+deviceColumns+" FROM devices ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []LogicalDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// GetByID retrieves a device by its identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*LogicalDevice, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return d, nil
}

// Create inserts a new device at the end of the registration order.
func (r *SQLiteRepository) Create(ctx context.Context, d *LogicalDevice) error {
	outputsJSON, err := json.Marshal(nonNil(d.OutputChannels))
	if err != nil {
		return fmt.Errorf("marshalling output channels: %w", err)
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		var seq int64
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) + 1 FROM devices").Scan(&seq); err != nil {
			return fmt.Errorf("allocating registration order: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO devices (`+deviceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID,
			seq,
			d.Name,
			nullableString(d.InputChannel),
			string(outputsJSON),
			boolToInt(d.LogicalState),
			nullableBool(d.PendingState),
			formatTime(d.CreatedAt),
			formatTime(d.UpdatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return ErrDeviceExists
			}
			return fmt.Errorf("inserting device: %w", err)
		}

		d.seq = seq
		return nil
	})
}

// Delete removes a device. History rows go with it (ON DELETE CASCADE).
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireOneRow(result)
}

// Rename changes a device name.
func (r *SQLiteRepository) Rename(ctx context.Context, id, name string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET name = ?, updated_at = ? WHERE id = ?",
		name, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("renaming device: %w", err)
	}
	return requireOneRow(result)
}

// ApplyStates writes logical and pending state for several devices atomically.
func (r *SQLiteRepository) ApplyStates(ctx context.Context, changes []StateChange, at time.Time) error {
	if len(changes) == 0 {
		return nil
	}
	ts := formatTime(at)

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, c := range changes {
			result, err := tx.ExecContext(ctx,
				"UPDATE devices SET logical_state = ?, pending_state = ?, updated_at = ? WHERE id = ?",
				boolToInt(c.LogicalState), nullableBool(c.Pending), ts, c.DeviceID)
			if err != nil {
				return fmt.Errorf("updating device %s: %w", c.DeviceID, err)
			}
			if err := requireOneRow(result); err != nil {
				return fmt.Errorf("updating device %s: %w", c.DeviceID, err)
			}

			if c.Source == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO state_history (device_id, state, source, recorded_at) VALUES (?, ?, ?, ?)",
				c.DeviceID, boolToInt(c.LogicalState), c.Source, ts); err != nil {
				return fmt.Errorf("recording history for %s: %w", c.DeviceID, err)
			}
		}
		return nil
	})
}

// History returns recent state changes for a device, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - id: Device identifier
//   - limit: Maximum entries (default 50, max 500)
func (r *SQLiteRepository) History(ctx context.Context, id string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, state, source, recorded_at
		FROM state_history
		WHERE device_id = ?
		ORDER BY id DESC
		LIMIT ?`, id, limit)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0)
	for rows.Next() {
		var e HistoryEntry
		var st int
		var recordedAt string
		if err := rows.Scan(&e.ID, &e.DeviceID, &st, &e.Source, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		e.State = st == 1
		if e.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// SaveEndpointInfo replaces the single endpoint info row.
func (r *SQLiteRepository) SaveEndpointInfo(ctx context.Context, info EndpointInfo) error {
	if info.UpdatedAt.IsZero() {
		info.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO endpoint_info (id, endpoint_id, name, address, poll_interval_ms, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			endpoint_id = excluded.endpoint_id,
			name = excluded.name,
			address = excluded.address,
			poll_interval_ms = excluded.poll_interval_ms,
			updated_at = excluded.updated_at`,
		info.EndpointID, info.Name, info.Address,
		info.PollInterval.Milliseconds(), formatTime(info.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving endpoint info: %w", err)
	}
	return nil
}

// EndpointInfo returns the stored endpoint info.
func (r *SQLiteRepository) EndpointInfo(ctx context.Context) (*EndpointInfo, error) {
	var info EndpointInfo
	var pollMS int64
	var updatedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT endpoint_id, name, address, poll_interval_ms, updated_at
		FROM endpoint_info WHERE id = 1`).
		Scan(&info.EndpointID, &info.Name, &info.Address, &pollMS, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEndpointInfoMissing
		}
		return nil, fmt.Errorf("querying endpoint info: %w", err)
	}
	info.PollInterval = time.Duration(pollMS) * time.Millisecond
	if info.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &info, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(s rowScanner) (*LogicalDevice, error) {
	var d LogicalDevice
	var input sql.NullString
	var outputsJSON string
	var logical int
	var pending sql.NullInt64
	var createdAt, updatedAt string

	if err := s.Scan(&d.ID, &d.seq, &d.Name, &input, &outputsJSON,
		&logical, &pending, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning device: %w", err)
	}

	d.InputChannel = input.String
	if err := json.Unmarshal([]byte(outputsJSON), &d.OutputChannels); err != nil {
		return nil, fmt.Errorf("unmarshalling output channels of %s: %w", d.ID, err)
	}
	d.OutputChannels = nonNil(d.OutputChannels)
	d.LogicalState = logical == 1
	if pending.Valid {
		d.PendingState = BoolPtr(pending.Int64 == 1)
	}

	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func requireOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// isUniqueConstraintError reports whether err is a primary-key or unique violation.
func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableBool(b *bool) sql.NullInt64 {
	if b == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(boolToInt(*b)), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
