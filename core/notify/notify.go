package notify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/raftaar/ambudispatch/core/logger"
	"github.com/raftaar/ambudispatch/core/model"
)

// Sender delivers a three-field templated message to a phone number and
// returns the provider message id.
type Sender interface {
	SendTemplate(ctx context.Context, phone string, fields [3]string) (string, error)
}

// Notifier formats booking details and sends the assignment notification to
// the winning driver. Failures here never affect assignment state.
type Notifier struct {
	sender Sender
	log    logger.Logger
}

// New creates a Notifier.
func New(sender Sender, log logger.Logger) *Notifier {
	return &Notifier{sender: sender, log: log}
}

// SendLocation sends the victim location, hospital info and contact to the
// driver.
func (n *Notifier) SendLocation(ctx context.Context, driverPhone string, b model.Booking) error {
	fields := [3]string{FormatLocation(b), FormatHospital(b), FormatContact(b)}
	id, err := n.sender.SendTemplate(ctx, driverPhone, fields)
	if err != nil {
		return fmt.Errorf("send location for booking %s: %w", b.Code, err)
	}
	n.log.Infof("location message %s sent to driver for booking %s", id, b.Code)
	return nil
}

// coordPattern matches coordinates embedded in booking remarks, e.g.
// "Location: 19.0760, 72.8777".
var coordPattern = regexp.MustCompile(`Location:\s*(-?[\d.]+),\s*(-?[\d.]+)`)

// FormatLocation builds the victim location field, including a Google Maps
// link when coordinates are present in the remarks.
func FormatLocation(b model.Booking) string {
	var parts []string
	if b.Address != "" {
		parts = append(parts, b.Address)
	}
	cityInfo := b.City
	if b.Pincode != "" {
		if cityInfo != "" {
			cityInfo += " - " + b.Pincode
		} else {
			cityInfo = b.Pincode
		}
	}
	if cityInfo != "" {
		parts = append(parts, cityInfo)
	}
	if m := coordPattern.FindStringSubmatch(b.Remarks); m != nil {
		parts = append(parts, fmt.Sprintf("https://maps.google.com/?q=%s,%s", m[1], m[2]))
	}
	if len(parts) == 0 {
		return "Location not available"
	}
	return strings.Join(parts, ", ")
}

// FormatHospital builds the nearest hospital field.
func FormatHospital(b model.Booking) string {
	var parts []string
	if b.NearestHospital != "" {
		parts = append(parts, b.NearestHospital)
	}
	if b.HospitalPhone != "" {
		parts = append(parts, "Ph: "+b.HospitalPhone)
	}
	if len(parts) == 0 {
		return "Nearest hospital not specified"
	}
	return strings.Join(parts, ", ")
}

// FormatContact builds the victim contact field as a bare digit string.
func FormatContact(b model.Booking) string {
	var digits strings.Builder
	for _, r := range b.ContactPhone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return "Contact not available"
	}
	return digits.String()
}
