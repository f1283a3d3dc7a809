// Package postgres persists the dispatch queue in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raftaar/ambudispatch/core/model"
	"github.com/raftaar/ambudispatch/core/queue"
)

// Store implements queue.Store on a pgx connection pool. The same conditional
// UPDATE guards as the SQLite store; Postgres row locking makes them safe
// across processes, not just goroutines.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool for dsn, verifies connectivity and ensures the schema.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing pool without touching the schema.
func NewStore(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS bookings (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    driver_id TEXT NOT NULL DEFAULT '',
    address TEXT NOT NULL DEFAULT '',
    city TEXT NOT NULL DEFAULT '',
    pincode TEXT NOT NULL DEFAULT '',
    nearest_hospital TEXT NOT NULL DEFAULT '',
    hospital_phone TEXT NOT NULL DEFAULT '',
    contact_phone TEXT NOT NULL DEFAULT '',
    remarks TEXT NOT NULL DEFAULT '',
    distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
    whatsapp_sent BOOLEAN NOT NULL DEFAULT FALSE,
    whatsapp_sent_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS drivers (
    id TEXT PRIMARY KEY,
    first_name TEXT NOT NULL DEFAULT '',
    last_name TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    vehicle_model TEXT NOT NULL DEFAULT '',
    vehicle_number TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS queue_entries (
    id TEXT PRIMARY KEY,
    booking_id TEXT NOT NULL,
    driver_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    call_id TEXT NOT NULL DEFAULT '',
    response TEXT NOT NULL DEFAULT '',
    analysis TEXT NOT NULL DEFAULT '',
    distance_km DOUBLE PRECISION NOT NULL DEFAULT 0,
    called_at TIMESTAMPTZ,
    responded_at TIMESTAMPTZ,
    UNIQUE(booking_id, position)
);
CREATE INDEX IF NOT EXISTS idx_queue_entries_call_id ON queue_entries(call_id);
CREATE INDEX IF NOT EXISTS idx_queue_entries_booking ON queue_entries(booking_id);`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) SaveBooking(ctx context.Context, b model.Booking) error {
	var sentAt *time.Time
	if !b.WhatsAppSentAt.IsZero() {
		sentAt = &b.WhatsAppSentAt
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO bookings (id, code, status, driver_id, address, city, pincode,
    nearest_hospital, hospital_phone, contact_phone, remarks, distance_km,
    whatsapp_sent, whatsapp_sent_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (id) DO UPDATE SET
    code = EXCLUDED.code,
    status = EXCLUDED.status,
    driver_id = EXCLUDED.driver_id,
    address = EXCLUDED.address,
    city = EXCLUDED.city,
    pincode = EXCLUDED.pincode,
    nearest_hospital = EXCLUDED.nearest_hospital,
    hospital_phone = EXCLUDED.hospital_phone,
    contact_phone = EXCLUDED.contact_phone,
    remarks = EXCLUDED.remarks,
    distance_km = EXCLUDED.distance_km,
    whatsapp_sent = EXCLUDED.whatsapp_sent,
    whatsapp_sent_at = EXCLUDED.whatsapp_sent_at`,
		b.ID, b.Code, string(b.Status), b.DriverID, b.Address, b.City, b.Pincode,
		b.NearestHospital, b.HospitalPhone, b.ContactPhone, b.Remarks, b.DistanceKM,
		b.WhatsAppSent, sentAt)
	return err
}

func (s *Store) GetBooking(ctx context.Context, bookingID string) (model.Booking, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, code, status, driver_id, address, city, pincode, nearest_hospital,
    hospital_phone, contact_phone, remarks, distance_km, whatsapp_sent,
    whatsapp_sent_at
FROM bookings WHERE id = $1`, bookingID)
	var b model.Booking
	var status string
	var sentAt *time.Time
	err := row.Scan(&b.ID, &b.Code, &status, &b.DriverID, &b.Address, &b.City,
		&b.Pincode, &b.NearestHospital, &b.HospitalPhone, &b.ContactPhone,
		&b.Remarks, &b.DistanceKM, &b.WhatsAppSent, &sentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Booking{}, fmt.Errorf("booking %s: %w", bookingID, queue.ErrNotFound)
	}
	if err != nil {
		return model.Booking{}, err
	}
	b.Status = model.BookingStatus(status)
	if sentAt != nil {
		b.WhatsAppSentAt = sentAt.UTC()
	}
	return b, nil
}

func (s *Store) SetBookingStatus(ctx context.Context, bookingID string, status model.BookingStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bookings SET status = $1 WHERE id = $2`, string(status), bookingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking %s: %w", bookingID, queue.ErrNotFound)
	}
	return nil
}

func (s *Store) AppendBookingRemark(ctx context.Context, bookingID, remark string) error {
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), remark)
	tag, err := s.pool.Exec(ctx, `
UPDATE bookings
SET remarks = CASE WHEN remarks = '' THEN $1 ELSE remarks || E'\n' || $1 END
WHERE id = $2`, line, bookingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking %s: %w", bookingID, queue.ErrNotFound)
	}
	return nil
}

func (s *Store) MarkWhatsAppSent(ctx context.Context, bookingID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bookings SET whatsapp_sent = TRUE, whatsapp_sent_at = NOW() WHERE id = $1`,
		bookingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking %s: %w", bookingID, queue.ErrNotFound)
	}
	return nil
}

func (s *Store) SaveDriver(ctx context.Context, d model.Driver) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO drivers (id, first_name, last_name, phone, vehicle_model, vehicle_number)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    first_name = EXCLUDED.first_name,
    last_name = EXCLUDED.last_name,
    phone = EXCLUDED.phone,
    vehicle_model = EXCLUDED.vehicle_model,
    vehicle_number = EXCLUDED.vehicle_number`,
		d.ID, d.FirstName, d.LastName, d.Phone, d.VehicleModel, d.VehicleNumber)
	return err
}

func (s *Store) GetDriver(ctx context.Context, driverID string) (model.Driver, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, first_name, last_name, phone, vehicle_model, vehicle_number
FROM drivers WHERE id = $1`, driverID)
	var d model.Driver
	err := row.Scan(&d.ID, &d.FirstName, &d.LastName, &d.Phone, &d.VehicleModel, &d.VehicleNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Driver{}, fmt.Errorf("driver %s: %w", driverID, queue.ErrNotFound)
	}
	if err != nil {
		return model.Driver{}, err
	}
	return d, nil
}

func (s *Store) CreateQueue(ctx context.Context, bookingID string, candidates []model.Candidate) ([]model.QueueEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var existing int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(1) FROM queue_entries WHERE booking_id = $1`, bookingID).Scan(&existing); err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, fmt.Errorf("booking %s: %w", bookingID, queue.ErrQueueExists)
	}

	created := make([]model.QueueEntry, 0, len(candidates))
	for i, c := range candidates {
		e := model.QueueEntry{
			ID:         uuid.NewString(),
			BookingID:  bookingID,
			DriverID:   c.Driver.ID,
			Position:   i + 1,
			Status:     model.EntryPending,
			DistanceKM: c.DistanceKM,
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO queue_entries (id, booking_id, driver_id, position, status, distance_km)
VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, e.BookingID, e.DriverID, e.Position, string(e.Status), e.DistanceKM); err != nil {
			return nil, err
		}
		created = append(created, e)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) MarkCalling(ctx context.Context, entryID, callID string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE queue_entries SET status = $1, call_id = $2, called_at = NOW()
WHERE id = $3 AND status = $4`,
		string(model.EntryCalling), callID, entryID, string(model.EntryPending))
	if err != nil {
		return err
	}
	return s.requireTransition(ctx, tag.RowsAffected(), entryID)
}

func (s *Store) SetEntryCallID(ctx context.Context, entryID, callID string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE queue_entries SET call_id = $1 WHERE id = $2 AND status = $3`,
		callID, entryID, string(model.EntryCalling))
	if err != nil {
		return err
	}
	return s.requireTransition(ctx, tag.RowsAffected(), entryID)
}

func (s *Store) RecordOutcome(ctx context.Context, entryID string, status model.EntryStatus, response, analysis string) error {
	if !status.Terminal() {
		return fmt.Errorf("outcome %s is not terminal: %w", status, queue.ErrInvalidTransition)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE queue_entries SET status = $1, response = $2, analysis = $3, responded_at = NOW()
WHERE id = $4 AND status IN ($5, $6)`,
		string(status), response, analysis,
		entryID, string(model.EntryPending), string(model.EntryCalling))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		cur, gerr := s.GetEntry(ctx, entryID)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("entry %s is %s: %w", entryID, cur.Status, queue.ErrAlreadyTerminal)
	}
	return nil
}

func (s *Store) CancelOthers(ctx context.Context, bookingID, keepEntryID string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE queue_entries SET status = $1, responded_at = NOW()
WHERE booking_id = $2 AND id != $3 AND status IN ($4, $5)`,
		string(model.EntryCancelled), bookingID, keepEntryID,
		string(model.EntryPending), string(model.EntryCalling))
	return err
}

func (s *Store) NextPending(ctx context.Context, bookingID string) (model.QueueEntry, bool, error) {
	row := s.pool.QueryRow(ctx, entrySelect+`
WHERE booking_id = $1 AND status = $2 ORDER BY position LIMIT 1`,
		bookingID, string(model.EntryPending))
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.QueueEntry{}, false, nil
	}
	if err != nil {
		return model.QueueEntry{}, false, err
	}
	return e, true, nil
}

func (s *Store) IsBookingAssigned(ctx context.Context, bookingID string) (bool, error) {
	var driverID string
	err := s.pool.QueryRow(ctx,
		`SELECT driver_id FROM bookings WHERE id = $1`, bookingID).Scan(&driverID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("booking %s: %w", bookingID, queue.ErrNotFound)
	}
	if err != nil {
		return false, err
	}
	return driverID != "", nil
}

// FinalizeAssignment is the sole writer of bookings.driver_id; the guarded
// UPDATE makes the first caller win and every later one fail.
func (s *Store) FinalizeAssignment(ctx context.Context, bookingID, driverID string, distanceKM float64) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE bookings SET driver_id = $1, status = $2, distance_km = $3
WHERE id = $4 AND driver_id = ''`,
		driverID, string(model.BookingAssigned), distanceKM, bookingID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		cur, gerr := s.GetBooking(ctx, bookingID)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("booking %s has driver %s: %w", bookingID, cur.DriverID, queue.ErrAlreadyAssigned)
	}
	return nil
}

func (s *Store) FindCallingByCallID(ctx context.Context, callID string) (model.QueueEntry, bool, error) {
	if callID == "" {
		return model.QueueEntry{}, false, nil
	}
	row := s.pool.QueryRow(ctx, entrySelect+`
WHERE call_id = $1 AND status = $2 LIMIT 1`, callID, string(model.EntryCalling))
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.QueueEntry{}, false, nil
	}
	if err != nil {
		return model.QueueEntry{}, false, err
	}
	return e, true, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (model.QueueEntry, error) {
	row := s.pool.QueryRow(ctx, entrySelect+` WHERE id = $1`, entryID)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.QueueEntry{}, fmt.Errorf("entry %s: %w", entryID, queue.ErrNotFound)
	}
	if err != nil {
		return model.QueueEntry{}, err
	}
	return e, nil
}

func (s *Store) ListEntries(ctx context.Context, bookingID string) ([]model.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, entrySelect+`
WHERE booking_id = $1 ORDER BY position`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const entrySelect = `
SELECT id, booking_id, driver_id, position, status, call_id, response,
    analysis, distance_km, called_at, responded_at
FROM queue_entries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (model.QueueEntry, error) {
	var e model.QueueEntry
	var status string
	var calledAt, respondedAt *time.Time
	err := row.Scan(&e.ID, &e.BookingID, &e.DriverID, &e.Position, &status,
		&e.CallID, &e.Response, &e.Analysis, &e.DistanceKM, &calledAt, &respondedAt)
	if err != nil {
		return model.QueueEntry{}, err
	}
	e.Status = model.EntryStatus(status)
	if calledAt != nil {
		e.CalledAt = calledAt.UTC()
	}
	if respondedAt != nil {
		e.RespondedAt = respondedAt.UTC()
	}
	return e, nil
}

func (s *Store) requireTransition(ctx context.Context, affected int64, entryID string) error {
	if affected > 0 {
		return nil
	}
	cur, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	return fmt.Errorf("entry %s is %s: %w", entryID, cur.Status, queue.ErrInvalidTransition)
}
