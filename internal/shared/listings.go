package shared

import (
	"encoding/json"
	"fmt"
	"os"

	"acomody/internal/domain"
)

// LoadListings reads a JSON array of listings. The engine reads listing
// metadata but does not manage it, so deployments without an upstream catalog
// (STORE=memory in particular) seed it from this file.
func LoadListings(path string) ([]domain.Listing, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read listings: %w", err)
	}
	var out []domain.Listing
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	seen := make(map[domain.EntityRef]bool, len(out))
	for i, l := range out {
		switch {
		case l.Ref.Kind.IsZero() || l.Ref.ID == "":
			return nil, fmt.Errorf("listing %d: ref kind and id are required", i)
		case l.HostID == "":
			return nil, fmt.Errorf("listing %s: host_id is required", l.Ref)
		case seen[l.Ref]:
			return nil, fmt.Errorf("listing %s: duplicate", l.Ref)
		}
		seen[l.Ref] = true
		switch l.BookingType {
		case domain.BookingInstant, domain.BookingOnRequest:
		case "":
			out[i].BookingType = domain.BookingOnRequest
		default:
			return nil, fmt.Errorf("listing %s: unknown booking_type %q", l.Ref, l.BookingType)
		}
		if l.CancellationPolicy == "" {
			out[i].CancellationPolicy = domain.PolicyModerate
		} else if !l.CancellationPolicy.Valid() {
			return nil, fmt.Errorf("listing %s: unknown cancellation_policy %q", l.Ref, l.CancellationPolicy)
		}
	}
	return out, nil
}
