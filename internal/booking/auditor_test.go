package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/slot-booking/internal/metrics"
)

func TestCheckSlot(t *testing.T) {
	doctor := &Doctor{ID: uuid.New(), Schedule: []ScheduleSlot{
		{DayOfWeek: time.Monday, StartTime: "16:00", MaxCapacity: 3},
	}}
	key := NewSlotKey(doctor.ID, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), "16:00")

	tests := []struct {
		name  string
		state SlotState
		want  []string
	}{
		{"healthy partial", SlotState{Key: key, Count: 2, HasAvailability: true, AcceptingBookings: true, SeqNumbers: []int{1, 2}}, nil},
		{"healthy full", SlotState{Key: key, Count: 3, HasAvailability: true, SeqNumbers: []int{1, 2, 3}}, nil},
		{"untouched", SlotState{Key: key}, nil},
		{"gap", SlotState{Key: key, Count: 2, HasAvailability: true, AcceptingBookings: true, SeqNumbers: []int{1, 3}}, []string{ViolationSequenceGap}},
		{"counter ahead", SlotState{Key: key, Count: 2, HasAvailability: true, AcceptingBookings: true, SeqNumbers: []int{1}}, []string{ViolationCounterMismatch}},
		{"flag stuck open", SlotState{Key: key, Count: 3, HasAvailability: true, AcceptingBookings: true, SeqNumbers: []int{1, 2, 3}}, []string{ViolationAvailabilityDrift}},
		{"flag closed early", SlotState{Key: key, Count: 1, HasAvailability: true, SeqNumbers: []int{1}}, []string{ViolationAvailabilityDrift}},
		{"over capacity", SlotState{Key: key, Count: 4, HasAvailability: true, SeqNumbers: []int{1, 2, 3, 4}}, []string{ViolationOverCapacity}},
		{"no schedule", SlotState{Key: NewSlotKey(doctor.ID, key.Date, "09:00"), Count: 1, SeqNumbers: []int{1}}, []string{ViolationMissingSchedule}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var kinds []string
			for _, v := range checkSlot(tt.state, doctor) {
				kinds = append(kinds, v.Kind)
			}
			assert.Equal(t, tt.want, kinds)
		})
	}
}

func TestAuditor_RunReportsDrift(t *testing.T) {
	repo := NewMemoryRepository(time.Second)
	ctx := context.Background()
	doctor := &Doctor{ID: uuid.New(), Name: "Dr. Drift", Schedule: []ScheduleSlot{
		{DayOfWeek: time.Monday, StartTime: "16:00", MaxCapacity: 1},
	}}
	require.NoError(t, repo.SaveDoctor(ctx, doctor))
	key := NewSlotKey(doctor.ID, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), "16:00")

	// a counter that moved without its appointment and without the flag
	require.NoError(t, repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.EnsureAvailability(ctx, key); err != nil {
			return err
		}
		return tx.SetCounter(ctx, key, 1)
	}))

	m := metrics.NewCollector("test")
	violations, err := NewAuditor(repo, repo, nil, m).Run(ctx)
	require.NoError(t, err)

	var kinds []string
	for _, v := range violations {
		kinds = append(kinds, v.Kind)
	}
	assert.ElementsMatch(t, []string{ViolationCounterMismatch, ViolationAvailabilityDrift}, kinds)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditViolations.WithLabelValues(ViolationAvailabilityDrift)))
}

func TestAuditor_UnknownDoctorIsMissingSchedule(t *testing.T) {
	repo := NewMemoryRepository(time.Second)
	ctx := context.Background()
	key := NewSlotKey(uuid.New(), time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), "16:00")
	require.NoError(t, repo.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.EnsureCounter(ctx, key)
		return err
	}))

	violations, err := NewAuditor(repo, repo, nil, nil).Run(ctx)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, ViolationMissingSchedule, violations[0].Kind)
}
