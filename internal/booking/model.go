package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DateLayout      = "2006-01-02"
	StartTimeLayout = "15:04"
)

// ScheduleSlot is one recurring weekly template entry of a doctor.
type ScheduleSlot struct {
	DayOfWeek   time.Weekday
	StartTime   string // HH:MM
	MaxCapacity int
}

type Doctor struct {
	ID       uuid.UUID
	Name     string
	Schedule []ScheduleSlot
}

type Patient struct {
	ID    uuid.UUID
	Name  string
	Phone string
}

// SlotKey identifies one concrete occurrence of a recurring slot.
type SlotKey struct {
	DoctorID  uuid.UUID
	Date      time.Time // calendar date, midnight UTC
	StartTime string
}

func NewSlotKey(doctorID uuid.UUID, date time.Time, startTime string) SlotKey {
	return SlotKey{DoctorID: doctorID, Date: DateOf(date), StartTime: startTime}
}

func (k SlotKey) String() string {
	return k.DoctorID.String() + "|" + k.Date.Format(DateLayout) + "|" + k.StartTime
}

// ParseSlotKey is the inverse of SlotKey.String.
func ParseSlotKey(s string) (SlotKey, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 3 {
		return SlotKey{}, fmt.Errorf("malformed slot key %q", s)
	}
	doctorID, err := uuid.Parse(parts[0])
	if err != nil {
		return SlotKey{}, fmt.Errorf("malformed slot key %q: %w", s, err)
	}
	date, err := time.Parse(DateLayout, parts[1])
	if err != nil {
		return SlotKey{}, fmt.Errorf("malformed slot key %q: %w", s, err)
	}
	return SlotKey{DoctorID: doctorID, Date: date, StartTime: parts[2]}, nil
}

// AppointmentKey allows at most one booking per patient per slot occurrence.
type AppointmentKey struct {
	SlotKey
	PatientID uuid.UUID
}

func (k AppointmentKey) String() string {
	return k.SlotKey.String() + "|" + k.PatientID.String()
}

type SequenceCounter struct {
	Key   SlotKey
	Count int
}

type AvailabilityRecord struct {
	Key               SlotKey
	AcceptingBookings bool
}

type Appointment struct {
	Key          AppointmentKey
	SeqNumber    int
	Reason       string
	RegisteredAt time.Time
	Canceled     bool
}

// AppointmentDetail is an appointment with its doctor and patient resolved.
type AppointmentDetail struct {
	Appointment
	Doctor  Doctor
	Patient Patient
}

type BookingRequest struct {
	DoctorID  uuid.UUID
	Date      time.Time
	StartTime string
	PatientID uuid.UUID
	Reason    string
}

// SlotStatus is the committed state of one slot occurrence.
type SlotStatus struct {
	Key               SlotKey
	MaxCapacity       int
	Booked            int
	AcceptingBookings bool
}

// SlotState is the raw committed state the auditor checks.
type SlotState struct {
	Key               SlotKey
	Count             int
	AcceptingBookings bool
	HasAvailability   bool
	SeqNumbers        []int
}

// DateOf drops the clock part of t, keeping the calendar date as seen in t's location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// NormalizeStartTime accepts H:MM or HH:MM and returns HH:MM.
func NormalizeStartTime(s string) (string, error) {
	t, err := time.Parse(StartTimeLayout, strings.TrimSpace(s))
	if err != nil {
		return "", err
	}
	return t.Format(StartTimeLayout), nil
}
