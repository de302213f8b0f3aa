package booking

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/iliyamo/room-reservation/internal/ledger"
	"github.com/iliyamo/room-reservation/internal/model"
)

// unknownContact stands in for the stored contact when the reference does
// not exist, so a miss costs the same comparison as a mismatch.
var unknownContact = sha256.Sum256([]byte("\x00unknown-reservation\x00"))

// NormalizeContact trims and lower-cases a guest contact.
func NormalizeContact(contact string) string {
	return strings.ToLower(strings.TrimSpace(contact))
}

// Lookup returns the reservation only when both the reference and the
// guest contact match.  An unknown reference and a wrong contact are
// indistinguishable to the caller.
func (s *Service) Lookup(ctx context.Context, reference, guestContact string) (*model.Reservation, error) {
	contact := NormalizeContact(guestContact)
	if contact == "" {
		return nil, reject(CodeInvalidRequest, "guest_contact is required")
	}
	r, err := s.ledger.FindByReference(ctx, normalizeReference(reference))
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return nil, storeUnavailable(err)
	}

	stored := unknownContact
	if r != nil {
		stored = sha256.Sum256([]byte(NormalizeContact(r.GuestContact)))
	}
	given := sha256.Sum256([]byte(contact))
	match := subtle.ConstantTimeCompare(stored[:], given[:]) == 1
	if r == nil || !match {
		return nil, notFound()
	}
	return r, nil
}

// CancelAsGuest verifies the contact like Lookup, then cancels.
func (s *Service) CancelAsGuest(ctx context.Context, reference, guestContact, reason string) (*model.Reservation, error) {
	r, err := s.Lookup(ctx, reference, guestContact)
	if err != nil {
		return nil, err
	}
	return s.Cancel(ctx, r.Reference, Guest(), reason)
}
