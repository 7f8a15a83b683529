package booking

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SearchFilter fields are optional. Blank strings and nil pointers are ignored;
// everything present is combined with AND.
type SearchFilter struct {
	DoctorName   string     // case-insensitive prefix
	PatientName  string     // case-insensitive prefix
	PatientPhone string     // prefix
	StartTime    string     // exact
	From         *time.Time // inclusive
	To           *time.Time // inclusive
	Canceled     *bool
}

type AppointmentSummary struct {
	DoctorID     uuid.UUID
	DoctorName   string
	PatientID    uuid.UUID
	PatientName  string
	PatientPhone string
	Date         time.Time
	StartTime    string
	SeqNumber    int
	RegisteredAt time.Time
	Canceled     bool
}

// Normalize trims text filters and truncates the date range to calendar dates.
func (f SearchFilter) Normalize() (SearchFilter, error) {
	f.DoctorName = strings.TrimSpace(f.DoctorName)
	f.PatientName = strings.TrimSpace(f.PatientName)
	f.PatientPhone = strings.TrimSpace(f.PatientPhone)
	f.StartTime = strings.TrimSpace(f.StartTime)

	if f.StartTime != "" {
		st, err := NormalizeStartTime(f.StartTime)
		if err != nil {
			return SearchFilter{}, reject(ErrInvalidRequest, "Invalid start time %q.", f.StartTime)
		}
		f.StartTime = st
	}
	if f.From != nil {
		d := DateOf(*f.From)
		f.From = &d
	}
	if f.To != nil {
		d := DateOf(*f.To)
		f.To = &d
	}
	return f, nil
}

// Matches evaluates the filter in memory. Stores that cannot push the
// predicate down use this.
func (f SearchFilter) Matches(s AppointmentSummary) bool {
	if f.DoctorName != "" && !hasFoldPrefix(s.DoctorName, f.DoctorName) {
		return false
	}
	if f.PatientName != "" && !hasFoldPrefix(s.PatientName, f.PatientName) {
		return false
	}
	if f.PatientPhone != "" && !hasFoldPrefix(s.PatientPhone, f.PatientPhone) {
		return false
	}
	if f.StartTime != "" && s.StartTime != f.StartTime {
		return false
	}
	date := DateOf(s.Date)
	if f.From != nil && date.Before(*f.From) {
		return false
	}
	if f.To != nil && date.After(*f.To) {
		return false
	}
	if f.Canceled != nil && s.Canceled != *f.Canceled {
		return false
	}
	return true
}

func hasFoldPrefix(s, prefix string) bool {
	return strings.HasPrefix(strings.ToLower(s), strings.ToLower(prefix))
}

// SortSummaries orders results by date, start time, doctor name and sequence
// number, the order the Postgres query uses.
func SortSummaries(s []AppointmentSummary) {
	sort.Slice(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		if a.DoctorName != b.DoctorName {
			return a.DoctorName < b.DoctorName
		}
		return a.SeqNumber < b.SeqNumber
	})
}

// EscapeLike escapes LIKE wildcards so user input only matches literally.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Search is the read-only listing over persisted appointments. It never goes
// through the booking engine.
type Search struct {
	src Searcher
	log *zap.Logger
}

func NewSearch(src Searcher, log *zap.Logger) *Search {
	if log == nil {
		log = zap.NewNop()
	}
	return &Search{src: src, log: log}
}

func (s *Search) Find(ctx context.Context, f SearchFilter) ([]AppointmentSummary, error) {
	f, err := f.Normalize()
	if err != nil {
		return nil, err
	}

	results, err := s.src.SearchAppointments(ctx, f)
	if err != nil {
		s.log.Error("appointment search failed", zap.Error(err))
		return nil, classify("search appointments", err)
	}
	return results, nil
}
