package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"acomody/internal/domain"
)

var validate = validator.New()

const maxBody = 1 << 20

type rangeRequest struct {
	Start  string `json:"start" validate:"required,datetime=2006-01-02"`
	End    string `json:"end" validate:"required,datetime=2006-01-02"`
	Reason string `json:"reason" validate:"max=255"`
}

type quoteRequest struct {
	Start           string   `json:"start" validate:"required,datetime=2006-01-02"`
	End             string   `json:"end" validate:"required,datetime=2006-01-02"`
	Quantity        int      `json:"quantity" validate:"omitempty,min=1"`
	Persons         int      `json:"persons" validate:"omitempty,min=1,max=100"`
	OptionalFees    []string `json:"optional_fees" validate:"omitempty,dive,required"`
	GuestAges       []int    `json:"guest_ages" validate:"omitempty,dive,min=0,max=120"`
	DisplayCurrency string   `json:"display_currency" validate:"omitempty,len=3,alpha"`
}

type createBookingRequest struct {
	EntityKind   string   `json:"entity_kind" validate:"required,oneof=accommodation experience event restaurant vehicle"`
	EntityID     string   `json:"entity_id" validate:"required,max=64"`
	CheckIn      string   `json:"check_in" validate:"required,datetime=2006-01-02"`
	CheckOut     string   `json:"check_out" validate:"required,datetime=2006-01-02"`
	Guests       int      `json:"guests" validate:"required,min=1,max=100"`
	Quantity     int      `json:"quantity" validate:"omitempty,min=1"`
	OptionalFees []string `json:"optional_fees" validate:"omitempty,dive,required"`
	GuestAges    []int    `json:"guest_ages" validate:"omitempty,dive,min=0,max=120"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// decode reads a JSON body into dst and validates it. An empty body is
// treated as {} so optional payloads can be omitted.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.Validationf("decode", "malformed JSON body: %v", err)
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return domain.Validationf("validate", "%v", err)
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("%s: %s", jsonName(fe), fieldMessage(fe)))
	}
	sort.Strings(msgs)
	return domain.Validationf("validate", "%s", strings.Join(msgs, "; "))
}

func jsonName(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return toSnake(ns)
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] != '.' && s[i-1] != '[' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "datetime":
		return "must be a date formatted YYYY-MM-DD"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "is invalid"
	}
}

func parseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(domain.DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, domain.Validationf("parse date", "invalid date %q", s)
	}
	return t, nil
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	from, err := parseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseDate(end)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}
