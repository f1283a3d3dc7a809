// Package sqlite persists the dispatch queue in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/raftaar/ambudispatch/core/model"
	"github.com/raftaar/ambudispatch/core/queue"
)

// Store implements queue.Store on a SQLite database. All state transitions
// are conditional UPDATEs so concurrent resolvers serialize on the database,
// exactly like the in-memory store's mutex guards.
type Store struct {
	db *sql.DB
}

// New opens or creates the database at path and ensures the schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
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
    distance_km REAL NOT NULL DEFAULT 0,
    whatsapp_sent INTEGER NOT NULL DEFAULT 0,
    whatsapp_sent_at INTEGER NOT NULL DEFAULT 0
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
    distance_km REAL NOT NULL DEFAULT 0,
    called_at INTEGER NOT NULL DEFAULT 0,
    responded_at INTEGER NOT NULL DEFAULT 0,
    UNIQUE(booking_id, position)
);
CREATE INDEX IF NOT EXISTS idx_queue_entries_call_id ON queue_entries(call_id);
CREATE INDEX IF NOT EXISTS idx_queue_entries_booking ON queue_entries(booking_id);`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

func (s *Store) SaveBooking(ctx context.Context, b model.Booking) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bookings (id, code, status, driver_id, address, city, pincode,
    nearest_hospital, hospital_phone, contact_phone, remarks, distance_km,
    whatsapp_sent, whatsapp_sent_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    code = excluded.code,
    status = excluded.status,
    driver_id = excluded.driver_id,
    address = excluded.address,
    city = excluded.city,
    pincode = excluded.pincode,
    nearest_hospital = excluded.nearest_hospital,
    hospital_phone = excluded.hospital_phone,
    contact_phone = excluded.contact_phone,
    remarks = excluded.remarks,
    distance_km = excluded.distance_km,
    whatsapp_sent = excluded.whatsapp_sent,
    whatsapp_sent_at = excluded.whatsapp_sent_at`,
		b.ID, b.Code, string(b.Status), b.DriverID, b.Address, b.City, b.Pincode,
		b.NearestHospital, b.HospitalPhone, b.ContactPhone, b.Remarks, b.DistanceKM,
		boolToInt(b.WhatsAppSent), unixOrZero(b.WhatsAppSentAt))
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *Store) GetBooking(ctx context.Context, bookingID string) (model.Booking, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, code, status, driver_id, address, city, pincode, nearest_hospital,
    hospital_phone, contact_phone, remarks, distance_km, whatsapp_sent,
    whatsapp_sent_at
FROM bookings WHERE id = ?`, bookingID)
	var b model.Booking
	var status string
	var sent int
	var sentAt int64
	err := row.Scan(&b.ID, &b.Code, &status, &b.DriverID, &b.Address, &b.City,
		&b.Pincode, &b.NearestHospital, &b.HospitalPhone, &b.ContactPhone,
		&b.Remarks, &b.DistanceKM, &sent, &sentAt)
	if err == sql.ErrNoRows {
		return model.Booking{}, fmt.Errorf("booking %s: %w", bookingID, queue.ErrNotFound)
	}
	if err != nil {
		return model.Booking{}, err
	}
	b.Status = model.BookingStatus(status)
	b.WhatsAppSent = sent != 0
	b.WhatsAppSentAt = timeOrZero(sentAt)
	return b, nil
}

func (s *Store) SetBookingStatus(ctx context.Context, bookingID string, status model.BookingStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET status = ? WHERE id = ?`, string(status), bookingID)
	if err != nil {
		return err
	}
	return s.requireRow(res, "booking", bookingID)
}

func (s *Store) AppendBookingRemark(ctx context.Context, bookingID, remark string) error {
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), remark)
	res, err := s.db.ExecContext(ctx, `
UPDATE bookings
SET remarks = CASE WHEN remarks = '' THEN ? ELSE remarks || char(10) || ? END
WHERE id = ?`, line, line, bookingID)
	if err != nil {
		return err
	}
	return s.requireRow(res, "booking", bookingID)
}

func (s *Store) MarkWhatsAppSent(ctx context.Context, bookingID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET whatsapp_sent = 1, whatsapp_sent_at = ? WHERE id = ?`,
		time.Now().UTC().Unix(), bookingID)
	if err != nil {
		return err
	}
	return s.requireRow(res, "booking", bookingID)
}

func (s *Store) SaveDriver(ctx context.Context, d model.Driver) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO drivers (id, first_name, last_name, phone, vehicle_model, vehicle_number)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    first_name = excluded.first_name,
    last_name = excluded.last_name,
    phone = excluded.phone,
    vehicle_model = excluded.vehicle_model,
    vehicle_number = excluded.vehicle_number`,
		d.ID, d.FirstName, d.LastName, d.Phone, d.VehicleModel, d.VehicleNumber)
	return err
}

func (s *Store) GetDriver(ctx context.Context, driverID string) (model.Driver, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, first_name, last_name, phone, vehicle_model, vehicle_number
FROM drivers WHERE id = ?`, driverID)
	var d model.Driver
	err := row.Scan(&d.ID, &d.FirstName, &d.LastName, &d.Phone, &d.VehicleModel, &d.VehicleNumber)
	if err == sql.ErrNoRows {
		return model.Driver{}, fmt.Errorf("driver %s: %w", driverID, queue.ErrNotFound)
	}
	if err != nil {
		return model.Driver{}, err
	}
	return d, nil
}

func (s *Store) CreateQueue(ctx context.Context, bookingID string, candidates []model.Candidate) ([]model.QueueEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM queue_entries WHERE booking_id = ?`, bookingID).Scan(&existing); err != nil {
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
		if _, err := tx.ExecContext(ctx, `
INSERT INTO queue_entries (id, booking_id, driver_id, position, status, distance_km)
VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.BookingID, e.DriverID, e.Position, string(e.Status), e.DistanceKM); err != nil {
			return nil, err
		}
		created = append(created, e)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) MarkCalling(ctx context.Context, entryID, callID string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE queue_entries SET status = ?, call_id = ?, called_at = ?
WHERE id = ? AND status = ?`,
		string(model.EntryCalling), callID, time.Now().UTC().Unix(),
		entryID, string(model.EntryPending))
	if err != nil {
		return err
	}
	return s.requireTransition(ctx, res, entryID)
}

func (s *Store) SetEntryCallID(ctx context.Context, entryID, callID string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE queue_entries SET call_id = ? WHERE id = ? AND status = ?`,
		callID, entryID, string(model.EntryCalling))
	if err != nil {
		return err
	}
	return s.requireTransition(ctx, res, entryID)
}

func (s *Store) RecordOutcome(ctx context.Context, entryID string, status model.EntryStatus, response, analysis string) error {
	if !status.Terminal() {
		return fmt.Errorf("outcome %s is not terminal: %w", status, queue.ErrInvalidTransition)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE queue_entries SET status = ?, response = ?, analysis = ?, responded_at = ?
WHERE id = ? AND status IN (?, ?)`,
		string(status), response, analysis, time.Now().UTC().Unix(),
		entryID, string(model.EntryPending), string(model.EntryCalling))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		cur, gerr := s.GetEntry(ctx, entryID)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("entry %s is %s: %w", entryID, cur.Status, queue.ErrAlreadyTerminal)
	}
	return nil
}

func (s *Store) CancelOthers(ctx context.Context, bookingID, keepEntryID string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE queue_entries SET status = ?, responded_at = ?
WHERE booking_id = ? AND id != ? AND status IN (?, ?)`,
		string(model.EntryCancelled), time.Now().UTC().Unix(),
		bookingID, keepEntryID, string(model.EntryPending), string(model.EntryCalling))
	return err
}

func (s *Store) NextPending(ctx context.Context, bookingID string) (model.QueueEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, entrySelect+`
WHERE booking_id = ? AND status = ? ORDER BY position LIMIT 1`,
		bookingID, string(model.EntryPending))
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return model.QueueEntry{}, false, nil
	}
	if err != nil {
		return model.QueueEntry{}, false, err
	}
	return e, true, nil
}

func (s *Store) IsBookingAssigned(ctx context.Context, bookingID string) (bool, error) {
	var driverID string
	err := s.db.QueryRowContext(ctx,
		`SELECT driver_id FROM bookings WHERE id = ?`, bookingID).Scan(&driverID)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("booking %s: %w", bookingID, queue.ErrNotFound)
	}
	if err != nil {
		return false, err
	}
	return driverID != "", nil
}

// FinalizeAssignment is the sole writer of bookings.driver_id. The WHERE
// clause makes the write first-wins: a second caller affects zero rows and
// gets ErrAlreadyAssigned.
func (s *Store) FinalizeAssignment(ctx context.Context, bookingID, driverID string, distanceKM float64) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE bookings SET driver_id = ?, status = ?, distance_km = ?
WHERE id = ? AND driver_id = ''`,
		driverID, string(model.BookingAssigned), distanceKM, bookingID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
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
	row := s.db.QueryRowContext(ctx, entrySelect+`
WHERE call_id = ? AND status = ? LIMIT 1`, callID, string(model.EntryCalling))
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return model.QueueEntry{}, false, nil
	}
	if err != nil {
		return model.QueueEntry{}, false, err
	}
	return e, true, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID string) (model.QueueEntry, error) {
	row := s.db.QueryRowContext(ctx, entrySelect+` WHERE id = ?`, entryID)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return model.QueueEntry{}, fmt.Errorf("entry %s: %w", entryID, queue.ErrNotFound)
	}
	if err != nil {
		return model.QueueEntry{}, err
	}
	return e, nil
}

func (s *Store) ListEntries(ctx context.Context, bookingID string) ([]model.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, entrySelect+`
WHERE booking_id = ? ORDER BY position`, bookingID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
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
	var calledAt, respondedAt int64
	err := row.Scan(&e.ID, &e.BookingID, &e.DriverID, &e.Position, &status,
		&e.CallID, &e.Response, &e.Analysis, &e.DistanceKM, &calledAt, &respondedAt)
	if err != nil {
		return model.QueueEntry{}, err
	}
	e.Status = model.EntryStatus(status)
	e.CalledAt = timeOrZero(calledAt)
	e.RespondedAt = timeOrZero(respondedAt)
	return e, nil
}

// requireRow maps a zero-row UPDATE on a keyed row to ErrNotFound.
func (s *Store) requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, queue.ErrNotFound)
	}
	return nil
}

// requireTransition maps a zero-row guarded UPDATE to ErrNotFound or
// ErrInvalidTransition depending on whether the entry exists.
func (s *Store) requireTransition(ctx context.Context, res sql.Result, entryID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		cur, gerr := s.GetEntry(ctx, entryID)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("entry %s is %s: %w", entryID, cur.Status, queue.ErrInvalidTransition)
	}
	return nil
}
