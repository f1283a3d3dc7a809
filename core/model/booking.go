package model

import "time"

// BookingStatus is the lifecycle state of a booking. The set is open: the
// surrounding admin system stores other values that this engine never touches.
type BookingStatus string

const (
	BookingPending            BookingStatus = "pending"
	BookingAssigned           BookingStatus = "assigned"
	BookingNoDriversAvailable BookingStatus = "no_drivers_available"
	BookingCancelled          BookingStatus = "cancelled"
)

// Booking is an ambulance request awaiting a driver. Address, hospital and
// contact fields are opaque payload forwarded to the call and messaging
// providers, never interpreted here.
type Booking struct {
	ID              string        `json:"id"`
	Code            string        `json:"booking_id"` // human-readable reference, e.g. RA-2024-0042
	Status          BookingStatus `json:"status"`
	DriverID        string        `json:"driver_id,omitempty"` // empty until assignment; set exactly once
	Address         string        `json:"address,omitempty"`
	City            string        `json:"city,omitempty"`
	Pincode         string        `json:"pincode,omitempty"`
	NearestHospital string        `json:"nearest_hospital,omitempty"`
	HospitalPhone   string        `json:"hospital_phone,omitempty"`
	ContactPhone    string        `json:"phone_number,omitempty"`
	Remarks         string        `json:"remarks,omitempty"`
	DistanceKM      float64       `json:"distance_km,omitempty"` // travel distance of the assigned driver
	WhatsAppSent    bool          `json:"whatsapp_sent,omitempty"`
	WhatsAppSentAt  time.Time     `json:"whatsapp_sent_at"`
}

// Assigned reports whether a driver has been bound to the booking.
func (b Booking) Assigned() bool { return b.DriverID != "" }

// Driver describes an ambulance driver. Read-only from the dispatch engine's
// perspective.
type Driver struct {
	ID            string `json:"id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name,omitempty"`
	Phone         string `json:"phone"`
	VehicleModel  string `json:"vehicle_model,omitempty"`
	VehicleNumber string `json:"vehicle_number,omitempty"`
}

// FullName returns the driver's display name.
func (d Driver) FullName() string {
	if d.LastName == "" {
		return d.FirstName
	}
	return d.FirstName + " " + d.LastName
}

// Candidate pairs a driver with the precomputed travel distance used for
// ranking and for the outbound call payload.
type Candidate struct {
	Driver     Driver
	DistanceKM float64
}
