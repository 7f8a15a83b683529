package booking

import (
	"context"

	"github.com/google/uuid"
)

// Directory resolves doctors and patients. Both are read-only to the engine.
type Directory interface {
	FindDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)   // ErrDoctorNotFound
	FindPatient(ctx context.Context, id uuid.UUID) (*Patient, error) // ErrPatientNotFound
}

// DirectoryWriter is used by seeding and tests only.
type DirectoryWriter interface {
	SaveDoctor(ctx context.Context, d *Doctor) error
	SavePatient(ctx context.Context, p *Patient) error
}

// Store is the transactional store behind the booking engine.
//
// WithinTx commits when fn returns nil and rolls everything back otherwise.
// Implementations must make the availability and counter records of one SlotKey
// behave serializably across concurrent transactions, and must not block
// transactions on other SlotKeys. Conflicts and lock timeouts are reported
// with Conflict; other failures with StoreFailure.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Committed reads outside any transaction. found is false when the
	// record has never been materialized.
	ReadAvailability(ctx context.Context, key SlotKey) (rec AvailabilityRecord, found bool, err error)
	ReadCounter(ctx context.Context, key SlotKey) (c SequenceCounter, found bool, err error)
}

// Tx is the keyed get/put surface available inside one transaction.
type Tx interface {
	FindAppointment(ctx context.Context, key AppointmentKey) (*Appointment, error) // ErrAppointmentNotFound

	// EnsureAvailability fetches or creates (accepting) the record and holds it for the tx.
	EnsureAvailability(ctx context.Context, key SlotKey) (AvailabilityRecord, error)
	SetAvailability(ctx context.Context, key SlotKey, accepting bool) error

	// EnsureCounter fetches or creates (count 0) the counter and holds it for the tx.
	EnsureCounter(ctx context.Context, key SlotKey) (SequenceCounter, error)
	SetCounter(ctx context.Context, key SlotKey, count int) error

	// InsertAppointment fails with ErrDuplicateBooking if the key is taken.
	InsertAppointment(ctx context.Context, a *Appointment) error
}

// Searcher runs filtered read-only queries over committed appointments.
type Searcher interface {
	SearchAppointments(ctx context.Context, f SearchFilter) ([]AppointmentSummary, error)
}

// SlotStateLister exposes committed slot state for the auditor.
type SlotStateLister interface {
	ListSlotStates(ctx context.Context) ([]SlotState, error)
}
