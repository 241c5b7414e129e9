// Package booking tracks the appointment slots gathered during a call.
//
// A Tracker is the single source of truth for whether an appointment may be
// committed: booking is allowed only when every Field is non-empty.
package booking

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Field names a booking slot.
type Field string

const (
	FieldCustomerName  Field = "customer_name"
	FieldCustomerPhone Field = "customer_phone"
	FieldService       Field = "service_of_interest"
	FieldModality      Field = "modality"
	FieldDate          Field = "date"
	FieldTime          Field = "time"
)

// Fields lists every slot in canonical order.
var Fields = []Field{
	FieldCustomerName,
	FieldCustomerPhone,
	FieldService,
	FieldModality,
	FieldDate,
	FieldTime,
}

var labels = map[Field]string{
	FieldCustomerName:  "nombre del cliente",
	FieldCustomerPhone: "teléfono del cliente",
	FieldService:       "servicio de interés",
	FieldModality:      "modalidad",
	FieldDate:          "fecha",
	FieldTime:          "hora",
}

// Label returns the spoken Spanish name of the field.
func (f Field) Label() string {
	if l, ok := labels[f]; ok {
		return l
	}
	return string(f)
}

// Modality is the meeting format.
type Modality string

const (
	ModalityOnSite    Modality = "on-site"
	ModalityVideoCall Modality = "video-call"
)

var (
	ErrUnknownField    = errors.New("booking: unknown field")
	ErrEmptyValue      = errors.New("booking: empty value")
	ErrInvalidModality = errors.New("booking: invalid modality")
)

// FieldError reports which field Merge rejected.
type FieldError struct {
	Field Field
	Err   error
}

func (e *FieldError) Error() string { return e.Err.Error() }

func (e *FieldError) Unwrap() error { return e.Err }

// ParseModality normalizes a caller-facing modality. Matching ignores case
// and surrounding space.
func ParseModality(s string) (Modality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on-site", "onsite", "presencial", "en terreno", "visita":
		return ModalityOnSite, nil
	case "video-call", "videocall", "videollamada", "video llamada", "virtual", "online":
		return ModalityVideoCall, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidModality, s)
}

// Slots is a snapshot of the booking fields.
type Slots struct {
	CustomerName  string `json:"customer_name"`
	CustomerPhone string `json:"customer_phone"`
	Service       string `json:"service_of_interest"`
	Modality      string `json:"modality"`
	Date          string `json:"date"`
	Time          string `json:"time"`
}

// Get returns the value of f.
func (s Slots) Get(f Field) string {
	switch f {
	case FieldCustomerName:
		return s.CustomerName
	case FieldCustomerPhone:
		return s.CustomerPhone
	case FieldService:
		return s.Service
	case FieldModality:
		return s.Modality
	case FieldDate:
		return s.Date
	case FieldTime:
		return s.Time
	}
	return ""
}

func (s *Slots) set(f Field, v string) {
	switch f {
	case FieldCustomerName:
		s.CustomerName = v
	case FieldCustomerPhone:
		s.CustomerPhone = v
	case FieldService:
		s.Service = v
	case FieldModality:
		s.Modality = v
	case FieldDate:
		s.Date = v
	case FieldTime:
		s.Time = v
	}
}

// Missing returns empty fields in canonical order.
func (s Slots) Missing() []Field {
	var missing []Field
	for _, f := range Fields {
		if s.Get(f) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// IsComplete reports whether every field is set.
func (s Slots) IsComplete() bool {
	return len(s.Missing()) == 0
}

// Tracker holds one session's slots. It is safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	slots Slots
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// normalize validates and canonicalizes a single value.
func normalize(f Field, v string) (string, error) {
	if _, ok := labels[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, f)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyValue, f)
	}
	if f == FieldModality {
		m, err := ParseModality(v)
		if err != nil {
			return "", err
		}
		v = string(m)
	}
	return v, nil
}

// Set stores one field. Values are trimmed and empty values are rejected.
func (t *Tracker) Set(f Field, v string) error {
	v, err := normalize(f, v)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.slots.set(f, v)
	t.mu.Unlock()
	return nil
}

// Merge stores every non-blank value in values. Either all values are
// applied or none are.
func (t *Tracker) Merge(values map[Field]string) error {
	clean := make(map[Field]string, len(values))
	for f, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		nv, err := normalize(f, v)
		if err != nil {
			return &FieldError{Field: f, Err: err}
		}
		clean[f] = nv
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for f, v := range clean {
		t.slots.set(f, v)
	}
	return nil
}

// Snapshot returns a copy of the current slots.
func (t *Tracker) Snapshot() Slots {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots
}

// IsComplete reports whether all six fields are set. It is evaluated on
// every call.
func (t *Tracker) IsComplete() bool {
	return t.Snapshot().IsComplete()
}

// Missing returns the empty fields in canonical order.
func (t *Tracker) Missing() []Field {
	return t.Snapshot().Missing()
}

// Consume returns the current slots and clears the tracker.
func (t *Tracker) Consume() Slots {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.slots
	t.slots = Slots{}
	return s
}

// Reset clears every field.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.slots = Slots{}
	t.mu.Unlock()
}

// Labels joins the spoken names of fields, e.g. "fecha, hora".
func Labels(fields []Field) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Label()
	}
	return strings.Join(names, ", ")
}
