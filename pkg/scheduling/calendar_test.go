package scheduling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

var bogota = time.FixedZone("COT", -5*3600)

// fakeCalendar serves the freeBusy and events endpoints of the Calendar API.
type fakeCalendar struct {
	mu       sync.Mutex
	busy     []period
	inserted []*calendar.Event
}

func (f *fakeCalendar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/freeBusy"):
		var req calendar.FreeBusyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		from, _ := time.Parse(time.RFC3339, req.TimeMin)
		to, _ := time.Parse(time.RFC3339, req.TimeMax)

		f.mu.Lock()
		var busy []*calendar.TimePeriod
		for _, p := range f.busy {
			if p.overlaps(from, to) {
				busy = append(busy, &calendar.TimePeriod{
					Start: p.start.Format(time.RFC3339),
					End:   p.end.Format(time.RFC3339),
				})
			}
		}
		f.mu.Unlock()

		cals := map[string]calendar.FreeBusyCalendar{}
		for _, item := range req.Items {
			cals[item.Id] = calendar.FreeBusyCalendar{Busy: busy}
		}
		_ = json.NewEncoder(w).Encode(calendar.FreeBusyResponse{Calendars: cals})

	case strings.HasSuffix(r.URL.Path, "/events") && r.Method == http.MethodPost:
		var ev calendar.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ev.Id = "evt-1"
		f.mu.Lock()
		f.inserted = append(f.inserted, &ev)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(&ev)

	default:
		http.NotFound(w, r)
	}
}

func at(day, hour int) time.Time {
	return time.Date(2026, time.October, day, hour, 0, 0, 0, bogota)
}

func setupCalendar(t *testing.T) (*Calendar, *fakeCalendar, *LeadBook) {
	t.Helper()

	fake := &fakeCalendar{busy: []period{{start: at(19, 10), end: at(19, 11)}}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	svc, err := calendar.NewService(context.Background(),
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)

	leads, err := NewLeadBook(NewJSONStore(filepath.Join(t.TempDir(), "leads.json")))
	require.NoError(t, err)

	cfg := DefaultCalendarConfig("ingenieria@example.com", bogota)
	cfg.MaxSlots = 3
	c := NewCalendar(svc, leads, cfg)
	// Monday 08:00
	c.now = func() time.Time { return at(19, 8) }
	return c, fake, leads
}

func TestCalendarAvailability(t *testing.T) {
	c, _, _ := setupCalendar(t)

	out, err := c.CheckEngineerAvailability(context.Background(), "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t,
		"Hay ingenieros disponibles el 2026-10-19 en estos horarios: 09:00, 11:00, 12:00, 13:00, 14:00, 15:00, 16:00, 17:00.",
		out)

	out, err = c.CheckEngineerAvailability(context.Background(), "24/10/2026")
	require.NoError(t, err)
	assert.Equal(t, "No hay ingenieros disponibles el 2026-10-24.", out, "saturday")

	_, err = c.CheckEngineerAvailability(context.Background(), "mañana")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCalendarListSlots(t *testing.T) {
	c, _, _ := setupCalendar(t)

	out, err := c.ListAvailableSlots(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Horarios disponibles: 2026-10-19 09:00; 2026-10-19 11:00; 2026-10-19 12:00.", out)
}

func TestCalendarBook(t *testing.T) {
	c, fake, leads := setupCalendar(t)
	ctx := context.Background()

	s := completeSlots()
	s.Date = "2026-10-19"
	s.Time = "10:00"
	_, err := c.BookAppointment(ctx, s)
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.Empty(t, fake.inserted)

	s.Time = "2 pm"
	out, err := c.BookAppointment(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, "Cita agendada: reunión video-call sobre Automatización el 2026-10-19 a las 14:00.", out)

	require.Len(t, fake.inserted, 1)
	assert.Contains(t, fake.inserted[0].Description, "+56912345678")
	assert.Equal(t, at(19, 14).Format(time.RFC3339), fake.inserted[0].Start.DateTime)

	require.Len(t, leads.List(), 1)
	assert.Equal(t, "Ana Pérez", leads.List()[0].Name)
}

func TestCalendarBookIncomplete(t *testing.T) {
	c, fake, _ := setupCalendar(t)

	s := completeSlots()
	s.Service = ""
	_, err := c.BookAppointment(context.Background(), s)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Empty(t, fake.inserted)
}

func TestCalendarSaveProspect(t *testing.T) {
	c, _, leads := setupCalendar(t)

	out, err := c.SaveProspect(context.Background(), Prospect{Name: "Luis", Phone: "3001234567"})
	require.NoError(t, err)
	assert.Equal(t, "Datos guardados: Luis, 3001234567.", out)
	assert.Len(t, leads.List(), 1)
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2026-10-20", "2026-10-20", true},
		{" 20/10/2026 ", "2026-10-20", true},
		{"5/1/2027", "2027-01-05", true},
		{"20-10-2026", "2026-10-20", true},
		{"20 de octubre", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in, bogota)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Format("2006-01-02"))
			assert.Equal(t, bogota, got.Location())
		})
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in     string
		hour   int
		minute int
		ok     bool
	}{
		{"15:30", 15, 30, true},
		{"9", 9, 0, true},
		{"10am", 10, 0, true},
		{"3:30 p.m.", 15, 30, true},
		{"12 am", 0, 0, true},
		{"12pm", 12, 0, true},
		{"16 hrs", 16, 0, true},
		{"25:00", 0, 0, false},
		{"10:75", 0, 0, false},
		{"tarde", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			h, m, err := ParseClock(tt.in)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hour, h)
			assert.Equal(t, tt.minute, m)
		})
	}
}

func TestLeadBookPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "leads.json")

	book, err := NewLeadBook(NewJSONStore(path))
	require.NoError(t, err)
	book.now = func() time.Time { return at(19, 9) }

	_, err = book.Add(Prospect{Name: "Ana", Phone: "+56911111111"})
	require.NoError(t, err)
	_, err = book.Add(Prospect{Name: "Luis", Phone: "+56922222222"})
	require.NoError(t, err)
	_, err = book.Add(Prospect{Name: "Ana María", Phone: "+56911111111"})
	require.NoError(t, err)
	require.NoError(t, book.Close())

	reopened, err := NewLeadBook(NewJSONStore(path))
	require.NoError(t, err)
	leads := reopened.List()
	require.Len(t, leads, 2)
	assert.Equal(t, "Ana María", leads[0].Name)
	assert.Equal(t, "Luis", leads[1].Name)
	assert.True(t, leads[0].CreatedAt.Equal(at(19, 9)))
}

func TestLeadBookCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.json")
	require.NoError(t, NewJSONStore(path).Save([]byte("{not json")))

	_, err := NewLeadBook(NewJSONStore(path))
	assert.Error(t, err)
}
