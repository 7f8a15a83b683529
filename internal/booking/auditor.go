package booking

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/hackgods/slot-booking/internal/metrics"
)

const (
	ViolationSequenceGap       = "sequence_gap"
	ViolationCounterMismatch   = "counter_mismatch"
	ViolationOverCapacity      = "over_capacity"
	ViolationAvailabilityDrift = "availability_drift"
	ViolationMissingSchedule   = "missing_schedule"
)

type Violation struct {
	Kind   string
	Key    SlotKey
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s: %s", v.Kind, v.Key, v.Detail)
}

// Auditor checks committed slot state against the booking invariants. It only
// reads; a violation is reported, never repaired.
type Auditor struct {
	states    SlotStateLister
	directory Directory
	log       *zap.Logger
	metrics   *metrics.Collector
}

func NewAuditor(states SlotStateLister, dir Directory, log *zap.Logger, m *metrics.Collector) *Auditor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Auditor{states: states, directory: dir, log: log, metrics: m}
}

func (a *Auditor) Run(ctx context.Context) ([]Violation, error) {
	states, err := a.states.ListSlotStates(ctx)
	if err != nil {
		return nil, classify("list slot states", err)
	}

	doctors := make(map[string]*Doctor)
	var violations []Violation

	for _, st := range states {
		id := st.Key.DoctorID.String()
		doctor, seen := doctors[id]
		if !seen {
			doctor, err = a.directory.FindDoctor(ctx, st.Key.DoctorID)
			if err != nil && !errors.Is(err, ErrDoctorNotFound) {
				return nil, classify("find doctor", err)
			}
			doctors[id] = doctor
		}
		violations = append(violations, checkSlot(st, doctor)...)
	}

	if a.metrics != nil {
		a.metrics.AuditRuns.Inc()
		for _, v := range violations {
			a.metrics.AuditViolations.WithLabelValues(v.Kind).Inc()
		}
	}
	for _, v := range violations {
		a.log.Warn("invariant violation",
			zap.String("kind", v.Kind),
			zap.Stringer("slot", v.Key),
			zap.String("detail", v.Detail))
	}
	a.log.Info("audit finished", zap.Int("slots", len(states)), zap.Int("violations", len(violations)))

	return violations, nil
}

func checkSlot(st SlotState, doctor *Doctor) []Violation {
	var out []Violation
	report := func(kind, format string, args ...any) {
		out = append(out, Violation{Kind: kind, Key: st.Key, Detail: fmt.Sprintf(format, args...)})
	}

	for i, n := range st.SeqNumbers {
		if n != i+1 {
			report(ViolationSequenceGap, "sequence numbers %v are not 1..%d", st.SeqNumbers, len(st.SeqNumbers))
			break
		}
	}
	if st.Count != len(st.SeqNumbers) {
		report(ViolationCounterMismatch, "counter is %d, %d appointments committed", st.Count, len(st.SeqNumbers))
	}

	var slot ScheduleSlot
	ok := doctor != nil
	if ok {
		slot, ok = MatchSchedule(doctor, st.Key.Date, st.Key.StartTime)
	}
	if !ok {
		report(ViolationMissingSchedule, "no weekly schedule entry for %s %s",
			st.Key.Date.Weekday(), st.Key.StartTime)
		return out
	}

	if st.Count > slot.MaxCapacity {
		report(ViolationOverCapacity, "counter %d exceeds capacity %d", st.Count, slot.MaxCapacity)
	}

	want := st.Count < slot.MaxCapacity
	got := !st.HasAvailability || st.AcceptingBookings
	if got != want {
		report(ViolationAvailabilityDrift, "acceptingBookings=%t with %d of %d booked", got, st.Count, slot.MaxCapacity)
	}
	return out
}
