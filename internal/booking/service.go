package booking

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/clock"
	"github.com/hackgods/slot-booking/internal/metrics"
)

type Option func(*Service)

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTxTimeout bounds one booking transaction. Running out of time is
// reported as a TransactionConflict.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Service) { s.txTimeout = d }
}

// Service is the booking engine. It holds no locks of its own; every bit of
// mutual exclusion comes from the Store.
type Service struct {
	directory Directory
	store     Store
	tracker   AvailabilityTracker
	allocator SequenceAllocator
	clock     clock.Clock
	log       *zap.Logger
	metrics   *metrics.Collector
	txTimeout time.Duration
}

func NewService(dir Directory, store Store, clk clock.Clock, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		directory: dir,
		store:     store,
		tracker:   NewAvailabilityTracker(store),
		clock:     clk,
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create books one appointment. Either the appointment, the counter increment
// and the optional availability flip are committed together, or nothing is.
func (s *Service) Create(ctx context.Context, req BookingRequest) (detail *AppointmentDetail, err error) {
	start := time.Now()
	defer func() { s.observe(start, err) }()

	req, err = s.validate(req)
	if err != nil {
		return nil, err
	}

	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	slotKey := NewSlotKey(req.DoctorID, req.Date, req.StartTime)
	apptKey := AppointmentKey{SlotKey: slotKey, PatientID: req.PatientID}
	log := s.log.With(zap.Stringer("slot", slotKey), zap.Stringer("patient_id", req.PatientID))

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		detail = nil

		_, err := tx.FindAppointment(ctx, apptKey)
		switch {
		case err == nil:
			return Duplicate(apptKey)
		case !errors.Is(err, ErrAppointmentNotFound):
			return err
		}

		doctor, err := s.directory.FindDoctor(ctx, req.DoctorID)
		if err != nil {
			if errors.Is(err, ErrDoctorNotFound) {
				return reject(ErrDoctorNotFound, "There is no doctor with id %s.", req.DoctorID)
			}
			return err
		}

		patient, err := s.directory.FindPatient(ctx, req.PatientID)
		if err != nil {
			if errors.Is(err, ErrPatientNotFound) {
				return reject(ErrPatientNotFound, "There is no patient with id %s.", req.PatientID)
			}
			return err
		}

		slot, ok := MatchSchedule(doctor, req.Date, req.StartTime)
		if !ok {
			return reject(ErrNoScheduleForSlot, "There is no schedule for %s %s.",
				req.Date.Format(DateLayout), req.StartTime)
		}

		if _, err := s.tracker.materialize(ctx, tx, slotKey); err != nil {
			return err
		}

		seq, err := s.allocator.ReserveNext(ctx, tx, slotKey)
		if err != nil {
			return err
		}

		if seq > slot.MaxCapacity {
			return reject(ErrSlotFull, "Doctor can't accept appointment for %s %s.",
				req.Date.Format(DateLayout), req.StartTime)
		}

		if seq == slot.MaxCapacity {
			if err := s.tracker.markExhausted(ctx, tx, slotKey); err != nil {
				return err
			}
		}

		appt := &Appointment{
			Key:          apptKey,
			SeqNumber:    seq,
			Reason:       req.Reason,
			RegisteredAt: s.clock.Now(),
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return err
		}

		detail = &AppointmentDetail{Appointment: *appt, Doctor: *doctor, Patient: *patient}
		return nil
	})
	if err != nil {
		err = classify("book appointment", err)
		s.logFailure(log, err)
		return nil, err
	}

	log.Info("appointment booked", zap.Int("seq_number", detail.SeqNumber))
	if s.metrics != nil && s.isLastSeat(detail) {
		s.metrics.SlotsExhausted.Inc()
	}
	return detail, nil
}

func (s *Service) validate(req BookingRequest) (BookingRequest, error) {
	if req.Date.IsZero() {
		return req, reject(ErrInvalidRequest, "Please select appointment date.")
	}
	today := DateOf(s.clock.Now())
	req.Date = DateOf(req.Date)
	if req.Date.Before(today) {
		return req, reject(ErrInvalidRequest, "Please select today or future date for appointment date.")
	}
	if strings.TrimSpace(req.StartTime) == "" {
		return req, reject(ErrInvalidRequest, "Please select start time.")
	}
	st, err := NormalizeStartTime(req.StartTime)
	if err != nil {
		return req, reject(ErrInvalidRequest, "Invalid start time %q.", req.StartTime)
	}
	req.StartTime = st
	if req.DoctorID == uuid.Nil {
		return req, reject(ErrInvalidRequest, "Please select a doctor.")
	}
	if req.PatientID == uuid.Nil {
		return req, reject(ErrInvalidRequest, "Please select a patient.")
	}
	return req, nil
}

// Availability is the Availability Tracker read for one slot occurrence.
func (s *Service) Availability(ctx context.Context, key SlotKey) (bool, error) {
	return s.tracker.Get(ctx, key)
}

// SlotStatus reports capacity, committed count and the availability flag of one slot occurrence.
func (s *Service) SlotStatus(ctx context.Context, key SlotKey) (*SlotStatus, error) {
	st, err := NormalizeStartTime(key.StartTime)
	if err != nil {
		return nil, reject(ErrInvalidRequest, "Invalid start time %q.", key.StartTime)
	}
	key = NewSlotKey(key.DoctorID, key.Date, st)

	doctor, err := s.directory.FindDoctor(ctx, key.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, reject(ErrDoctorNotFound, "There is no doctor with id %s.", key.DoctorID)
		}
		return nil, classify("find doctor", err)
	}
	slot, ok := MatchSchedule(doctor, key.Date, key.StartTime)
	if !ok {
		return nil, reject(ErrNoScheduleForSlot, "There is no schedule for %s %s.",
			key.Date.Format(DateLayout), key.StartTime)
	}

	counter, _, err := s.store.ReadCounter(ctx, key)
	if err != nil {
		return nil, classify("read counter", err)
	}
	accepting, err := s.tracker.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	return &SlotStatus{
		Key:               key,
		MaxCapacity:       slot.MaxCapacity,
		Booked:            counter.Count,
		AcceptingBookings: accepting,
	}, nil
}

func (s *Service) isLastSeat(d *AppointmentDetail) bool {
	slot, ok := MatchSchedule(&d.Doctor, d.Key.Date, d.Key.StartTime)
	return ok && d.SeqNumber == slot.MaxCapacity
}

func (s *Service) logFailure(log *zap.Logger, err error) {
	switch KindOf(err) {
	case ErrStoreFailure:
		log.Error("booking failed", zap.Error(err), zap.NamedError("cause", errors.UnwrapOnce(err)))
	case ErrTransactionConflict:
		log.Warn("booking conflict", zap.NamedError("cause", errors.UnwrapOnce(err)))
	default:
		log.Info("booking rejected", zap.String("reason", err.Error()))
	}
}

func (s *Service) observe(start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.BookingDuration.Observe(time.Since(start).Seconds())
	s.metrics.BookingAttempts.WithLabelValues(outcomeOf(err)).Inc()
}

func outcomeOf(err error) string {
	switch KindOf(err) {
	case nil:
		if err != nil {
			return metrics.OutcomeStoreFailed
		}
		return metrics.OutcomeBooked
	case ErrInvalidRequest:
		return metrics.OutcomeInvalid
	case ErrDuplicateBooking:
		return metrics.OutcomeDuplicate
	case ErrDoctorNotFound, ErrPatientNotFound:
		return metrics.OutcomeNotFound
	case ErrNoScheduleForSlot:
		return metrics.OutcomeNoSchedule
	case ErrSlotFull:
		return metrics.OutcomeSlotFull
	case ErrTransactionConflict:
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeStoreFailed
	}
}
