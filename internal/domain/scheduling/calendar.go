package scheduling

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

const maxRangeDays = 366

const (
	GroupByNone   = ""
	GroupByDoctor = "doctor"
	GroupByRoom   = "room"

	ColorByStatus   = "status"
	ColorByCategory = "category"

	UnassignedResource = "unassigned"
	unknownPatient     = "Unknown patient"
)

// Categories derived from the appointment reason.
const (
	CategoryConsultation = "consultation"
	CategoryFollowUp     = "follow-up"
	CategoryTreatment    = "treatment"
	CategoryOther        = "other"
)

var statusColors = map[Status]string{
	StatusPending:   "#f0ad4e",
	StatusCompleted: "#5cb85c",
	StatusCancelled: "#d9534f",
}

var categoryColors = map[string]string{
	CategoryConsultation: "#3a87ad",
	CategoryFollowUp:     "#8e44ad",
	CategoryTreatment:    "#16a085",
	CategoryOther:        "#7f8c8d",
}

const textColor = "#ffffff"

// Checked in order; first match wins.
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{CategoryConsultation, []string{"consult"}},
	{CategoryFollowUp, []string{"seguimiento", "follow"}},
	{CategoryTreatment, []string{"tratamiento", "terapia", "treatment", "therapy"}},
}

// Categorize maps a free-text reason onto a display category.
func Categorize(reason string) string {
	r := strings.ToLower(reason)
	for _, c := range categoryKeywords {
		for _, kw := range c.keywords {
			if strings.Contains(r, kw) {
				return c.category
			}
		}
	}
	return CategoryOther
}

// EventQuery selects the calendar range, inclusive on both dates.
type EventQuery struct {
	Start   Date
	End     Date
	GroupBy string
	ColorBy string
}

type EventProps struct {
	PatientID   string          `json:"patient_id"`
	PatientName string          `json:"patient_name"`
	Status      Status          `json:"status"`
	Category    string          `json:"category"`
	Reason      string          `json:"reason"`
	Paid        bool            `json:"paid"`
	Price       decimal.Decimal `json:"price"`
	Doctor      *string         `json:"doctor"`
	Room        *string         `json:"room"`
}

// Event is one calendar entry in the shape timeline widgets consume.
type Event struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Start           string     `json:"start"`
	End             string     `json:"end"`
	BackgroundColor string     `json:"backgroundColor"`
	BorderColor     string     `json:"borderColor"`
	TextColor       string     `json:"textColor"`
	ResourceID      string     `json:"resourceId,omitempty"`
	ExtendedProps   EventProps `json:"extendedProps"`
}

type Resource struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type EventFeed struct {
	Events    []Event    `json:"events"`
	Resources []Resource `json:"resources,omitempty"`
}

func (q *EventQuery) normalize() error {
	if q.Start.IsZero() {
		return invalid("start", "is required")
	}
	if q.End.IsZero() {
		return invalid("end", "is required")
	}
	if q.End.Before(q.Start.Time) {
		return invalid("end", "must not be before start")
	}
	if q.Start.DaysUntil(q.End) > maxRangeDays {
		return invalid("end", "range cannot exceed %d days", maxRangeDays)
	}
	switch q.GroupBy {
	case GroupByNone, GroupByDoctor, GroupByRoom:
	default:
		return invalid("group_by", "must be doctor or room")
	}
	switch q.ColorBy {
	case "":
		q.ColorBy = ColorByStatus
	case ColorByStatus, ColorByCategory:
	default:
		return invalid("color_by", "must be status or category")
	}
	return nil
}

// ListEvents renders every appointment in the range, whatever its status,
// ordered by date, start time and id.
func (s *Service) ListEvents(ctx context.Context, q EventQuery) (*EventFeed, error) {
	if err := q.normalize(); err != nil {
		return nil, err
	}
	rows, err := s.appts.ListRange(ctx, q.Start, q.End)
	if err != nil {
		return nil, err
	}
	return buildFeed(rows, q), nil
}

func stamp(d Date, t TimeOfDay) string {
	if t >= EndOfDay {
		return d.AddDays(1).String() + "T00:00:00"
	}
	return d.String() + "T" + t.Clock()
}

func resourceKey(v *string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return UnassignedResource
	}
	return strings.TrimSpace(*v)
}

func buildFeed(rows []*CalendarRow, q EventQuery) *EventFeed {
	sorted := make([]*CalendarRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Date.Equal(b.Date.Time) {
			return a.Date.Before(b.Date.Time)
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID.String() < b.ID.String()
	})

	feed := &EventFeed{Events: make([]Event, 0, len(sorted))}
	seen := map[string]bool{}

	for _, r := range sorted {
		name := strings.TrimSpace(r.PatientName)
		if name == "" {
			name = unknownPatient
		}
		title := name
		if reason := strings.TrimSpace(r.Reason); reason != "" {
			title += " - " + reason
		}

		category := Categorize(r.Reason)
		color := statusColors[r.Status]
		if q.ColorBy == ColorByCategory {
			color = categoryColors[category]
		}

		ev := Event{
			ID:              r.ID.String(),
			Title:           title,
			Start:           stamp(r.Date, r.StartTime),
			End:             stamp(r.Date, r.EndTime),
			BackgroundColor: color,
			BorderColor:     color,
			TextColor:       textColor,
			ExtendedProps: EventProps{
				PatientID:   r.PatientID.String(),
				PatientName: name,
				Status:      r.Status,
				Category:    category,
				Reason:      r.Reason,
				Paid:        r.Paid,
				Price:       r.Price,
				Doctor:      r.Doctor,
				Room:        r.Room,
			},
		}

		switch q.GroupBy {
		case GroupByDoctor:
			ev.ResourceID = resourceKey(r.Doctor)
		case GroupByRoom:
			ev.ResourceID = resourceKey(r.Room)
		}
		if ev.ResourceID != "" && !seen[ev.ResourceID] {
			seen[ev.ResourceID] = true
			feed.Resources = append(feed.Resources, Resource{ID: ev.ResourceID, Title: ev.ResourceID})
		}
		feed.Events = append(feed.Events, ev)
	}

	if q.GroupBy != GroupByNone {
		sort.Slice(feed.Resources, func(i, j int) bool {
			// The unassigned bucket always sorts last.
			a, b := feed.Resources[i].ID, feed.Resources[j].ID
			if (a == UnassignedResource) != (b == UnassignedResource) {
				return b == UnassignedResource
			}
			return a < b
		})
	}
	return feed
}
