package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/teslashibe/go-callagent/pkg/booking"
)

// ErrSlotTaken is returned when the requested meeting time is busy.
var ErrSlotTaken = errors.New("scheduling: slot taken")

// CalendarConfig configures the Google Calendar backend.
type CalendarConfig struct {
	// CalendarID is the engineering team calendar.
	CalendarID string

	// Location is the business time zone.
	Location *time.Location

	// OpenHour and CloseHour bound bookable hours (24h clock).
	OpenHour  int
	CloseHour int

	// SlotLength is the meeting length.
	SlotLength time.Duration

	// LookaheadDays is how many business days ListAvailableSlots scans.
	LookaheadDays int

	// MaxSlots caps the slots listed to the caller.
	MaxSlots int

	Logger *slog.Logger
}

// DefaultCalendarConfig returns office-hours defaults.
func DefaultCalendarConfig(calendarID string, loc *time.Location) CalendarConfig {
	if loc == nil {
		loc = time.UTC
	}
	return CalendarConfig{
		CalendarID:    calendarID,
		Location:      loc,
		OpenHour:      9,
		CloseHour:     18,
		SlotLength:    time.Hour,
		LookaheadDays: 5,
		MaxSlots:      6,
		Logger:        slog.Default(),
	}
}

// NewCalendarService builds a Calendar API client from a service account
// credentials file.
func NewCalendarService(ctx context.Context, credentialsFile string) (*calendar.Service, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}
	svc, err := calendar.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, nil
}

// Calendar implements Scheduler with Google Calendar and a LeadBook.
type Calendar struct {
	svc    *calendar.Service
	leads  *LeadBook
	cfg    CalendarConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewCalendar creates the calendar backend.
func NewCalendar(svc *calendar.Service, leads *LeadBook, cfg CalendarConfig) *Calendar {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Calendar{
		svc:    svc,
		leads:  leads,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "scheduling.calendar"),
		now:    time.Now,
	}
}

type period struct {
	start, end time.Time
}

func (p period) overlaps(start, end time.Time) bool {
	return start.Before(p.end) && p.start.Before(end)
}

// busy returns the busy periods of the team calendar in [from, to).
func (c *Calendar) busy(ctx context.Context, from, to time.Time) ([]period, error) {
	resp, err := c.svc.Freebusy.Query(&calendar.FreeBusyRequest{
		TimeMin:  from.Format(time.RFC3339),
		TimeMax:  to.Format(time.RFC3339),
		TimeZone: c.cfg.Location.String(),
		Items:    []*calendar.FreeBusyRequestItem{{Id: c.cfg.CalendarID}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query: %w", err)
	}

	var out []period
	for _, tp := range resp.Calendars[c.cfg.CalendarID].Busy {
		start, err1 := time.Parse(time.RFC3339, tp.Start)
		end, err2 := time.Parse(time.RFC3339, tp.End)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, period{start: start, end: end})
	}
	return out, nil
}

// freeSlots returns the bookable slot starts on day that are not busy and
// not in the past.
func (c *Calendar) freeSlots(day time.Time, busy []period) []time.Time {
	if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		return nil
	}
	now := c.now()
	closing := time.Date(day.Year(), day.Month(), day.Day(), c.cfg.CloseHour, 0, 0, 0, c.cfg.Location)
	var slots []time.Time
	for h := c.cfg.OpenHour; h < c.cfg.CloseHour; h++ {
		start := time.Date(day.Year(), day.Month(), day.Day(), h, 0, 0, 0, c.cfg.Location)
		end := start.Add(c.cfg.SlotLength)
		if end.After(closing) {
			break
		}
		if !start.After(now) {
			continue
		}
		taken := false
		for _, p := range busy {
			if p.overlaps(start, end) {
				taken = true
				break
			}
		}
		if !taken {
			slots = append(slots, start)
		}
	}
	return slots
}

func (c *Calendar) dayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, c.cfg.Location)
	return start, start.AddDate(0, 0, 1)
}

// CheckEngineerAvailability implements Scheduler.
func (c *Calendar) CheckEngineerAvailability(ctx context.Context, date string) (string, error) {
	day, err := ParseDate(date, c.cfg.Location)
	if err != nil {
		return "", err
	}
	from, to := c.dayBounds(day)
	busy, err := c.busy(ctx, from, to)
	if err != nil {
		return "", err
	}

	slots := c.freeSlots(day, busy)
	if len(slots) == 0 {
		return fmt.Sprintf("No hay ingenieros disponibles el %s.", day.Format("2006-01-02")), nil
	}
	hours := make([]string, len(slots))
	for i, s := range slots {
		hours[i] = s.Format("15:04")
	}
	return fmt.Sprintf("Hay ingenieros disponibles el %s en estos horarios: %s.",
		day.Format("2006-01-02"), strings.Join(hours, ", ")), nil
}

// ListAvailableSlots implements Scheduler.
func (c *Calendar) ListAvailableSlots(ctx context.Context) (string, error) {
	today := c.now().In(c.cfg.Location)
	from, _ := c.dayBounds(today)
	to := from.AddDate(0, 0, c.cfg.LookaheadDays+3)

	busy, err := c.busy(ctx, from, to)
	if err != nil {
		return "", err
	}

	var slots []time.Time
	days := 0
	for d := from; d.Before(to) && days < c.cfg.LookaheadDays && len(slots) < c.cfg.MaxSlots; d = d.AddDate(0, 0, 1) {
		free := c.freeSlots(d, busy)
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			days++
		}
		slots = append(slots, free...)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	if len(slots) > c.cfg.MaxSlots {
		slots = slots[:c.cfg.MaxSlots]
	}
	if len(slots) == 0 {
		return "No hay horarios disponibles en los próximos días.", nil
	}

	lines := make([]string, len(slots))
	for i, s := range slots {
		lines[i] = s.Format("2006-01-02 15:04")
	}
	return "Horarios disponibles: " + strings.Join(lines, "; ") + ".", nil
}

// SaveProspect implements Scheduler.
func (c *Calendar) SaveProspect(ctx context.Context, p Prospect) (string, error) {
	if _, err := c.leads.Add(p); err != nil {
		return "", fmt.Errorf("save lead: %w", err)
	}
	c.logger.Info("lead saved", "phone", p.Phone)
	return fmt.Sprintf("Datos guardados: %s, %s.", p.Name, p.Phone), nil
}

// BookAppointment implements Scheduler.
func (c *Calendar) BookAppointment(ctx context.Context, s booking.Slots) (string, error) {
	if !s.IsComplete() {
		return "", ErrIncomplete
	}
	day, err := ParseDate(s.Date, c.cfg.Location)
	if err != nil {
		return "", err
	}
	hour, minute, err := ParseClock(s.Time)
	if err != nil {
		return "", err
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, c.cfg.Location)
	end := start.Add(c.cfg.SlotLength)

	busy, err := c.busy(ctx, start, end)
	if err != nil {
		return "", err
	}
	if len(busy) > 0 {
		return "", fmt.Errorf("%w: %s", ErrSlotTaken, start.Format("2006-01-02 15:04"))
	}

	ev, err := c.svc.Events.Insert(c.cfg.CalendarID, &calendar.Event{
		Summary:     fmt.Sprintf("Reunión técnica: %s (%s)", s.Service, s.Modality),
		Description: fmt.Sprintf("Cliente: %s\nTeléfono: %s\nServicio: %s\nModalidad: %s", s.CustomerName, s.CustomerPhone, s.Service, s.Modality),
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: c.cfg.Location.String()},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: c.cfg.Location.String()},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}

	if _, err := c.leads.Add(Prospect{Name: s.CustomerName, Phone: s.CustomerPhone}); err != nil {
		c.logger.Warn("lead not saved after booking", "error", err)
	}
	c.logger.Info("appointment booked", "event", ev.Id, "start", start.Format(time.RFC3339))

	return fmt.Sprintf("Cita agendada: reunión %s sobre %s el %s a las %s.",
		s.Modality, s.Service, start.Format("2006-01-02"), start.Format("15:04")), nil
}

// Close closes the lead book.
func (c *Calendar) Close() error {
	return c.leads.Close()
}

var _ Scheduler = (*Calendar)(nil)

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006", "02-01-2006"}

// ParseDate reads a calendar date in loc. ISO (2006-01-02) and day-first
// forms are accepted.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: fecha %q, usa el formato AAAA-MM-DD", ErrInvalidRequest, s)
}

// ParseClock reads a time of day such as "15:30", "9", "10am" or "3:30 p.m.".
func ParseClock(s string) (hour, minute int, err error) {
	raw := s
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	s = strings.ReplaceAll(s, ".", "")

	meridiem := ""
	for _, suffix := range []string{"am", "pm", "hrs", "h"} {
		if strings.HasSuffix(s, suffix) {
			if suffix == "am" || suffix == "pm" {
				meridiem = suffix
			}
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}

	hs, ms, hasMinutes := strings.Cut(s, ":")
	hour, err = strconv.Atoi(hs)
	if err == nil && hasMinutes {
		minute, err = strconv.Atoi(ms)
	}
	if err != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: hora %q, usa el formato HH:MM", ErrInvalidRequest, raw)
	}

	switch meridiem {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	return hour, minute, nil
}
