package domain

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityKind is the closed set of bookable entity kinds. Values can only be
// obtained from the package-level variables or ParseEntityKind.
type EntityKind struct{ name string }

var (
	KindAccommodation = EntityKind{"accommodation"}
	KindExperience    = EntityKind{"experience"}
	KindEvent         = EntityKind{"event"}
	KindRestaurant    = EntityKind{"restaurant"}
	KindVehicle       = EntityKind{"vehicle"}
)

var entityKinds = map[string]EntityKind{
	KindAccommodation.name: KindAccommodation,
	KindExperience.name:    KindExperience,
	KindEvent.name:         KindEvent,
	KindRestaurant.name:    KindRestaurant,
	KindVehicle.name:       KindVehicle,
}

func ParseEntityKind(s string) (EntityKind, error) {
	k, ok := entityKinds[s]
	if !ok {
		return EntityKind{}, Validationf("parse entity kind", "unknown entity kind %q", s)
	}
	return k, nil
}

func (k EntityKind) String() string { return k.name }
func (k EntityKind) IsZero() bool   { return k.name == "" }

func (k EntityKind) MarshalText() ([]byte, error) { return []byte(k.name), nil }

func (k *EntityKind) UnmarshalText(b []byte) error {
	v, err := ParseEntityKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

func (k EntityKind) Value() (driver.Value, error) { return k.name, nil }

func (k *EntityKind) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return k.UnmarshalText([]byte(v))
	case []byte:
		return k.UnmarshalText(v)
	default:
		return fmt.Errorf("entity kind: unsupported scan type %T", src)
	}
}

// EntityRef points at one bookable entity.
type EntityRef struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}

func NewEntityRef(kind, id string) (EntityRef, error) {
	k, err := ParseEntityKind(kind)
	if err != nil {
		return EntityRef{}, err
	}
	if id == "" {
		return EntityRef{}, Validationf("entity ref", "entity id is required")
	}
	return EntityRef{Kind: k, ID: id}, nil
}

func (r EntityRef) String() string { return r.Kind.name + ":" + r.ID }

// Actor identifies who performed a mutation and from where.
type Actor struct {
	UserID string `json:"user_id"`
	IP     string `json:"ip,omitempty"`
}

// System is the actor used by scheduled jobs.
var System = Actor{UserID: "system"}

// NewID returns a time-ordered unique identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

const DateLayout = "2006-01-02"

// DateOf truncates t to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, Validationf("parse date", "invalid date %q, expected yyyy-mm-dd", s)
	}
	return t, nil
}

// Intersects is the closed-interval overlap test; touching boundaries overlap.
func Intersects(start1, end1, start2, end2 time.Time) bool {
	return !start1.After(end2) && !end1.Before(start2)
}

// DaysBetween counts whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}
