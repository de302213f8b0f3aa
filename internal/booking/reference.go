package booking

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/iliyamo/room-reservation/internal/ledger"
)

const (
	// DefaultReferencePrefix starts every booking reference.
	DefaultReferencePrefix = "RB"
	// DefaultReferenceAttempts bounds the collision retry loop.
	DefaultReferenceAttempts = 10

	// MaxReferenceLength matches the reference column and request limits.
	MaxReferenceLength = 32
	// MaxReferencePrefixLength leaves room for the YY + NNNNNN suffix.
	MaxReferencePrefixLength = MaxReferenceLength - 2 - suffixDigits

	suffixDigits = 6
)

var suffixSpace = big.NewInt(1_000_000)

// errReferenceTaken is returned by a claim func when the candidate is in use.
var errReferenceTaken = errors.New("reference taken")

// ReferenceAllocator builds references of the form PREFIX + YY + NNNNNN,
// e.g. RB26048213, and retries on collision up to Attempts times.
type ReferenceAllocator struct {
	Prefix   string
	Attempts int
	Now      func() time.Time
	Rand     func() (int64, error)
}

// NewReferenceAllocator returns an allocator with crypto/rand suffixes.
// The prefix is upper-cased: lookups normalize incoming references the
// same way, so a lower-case prefix would make every reference unfindable.
func NewReferenceAllocator(prefix string, attempts int) *ReferenceAllocator {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = DefaultReferencePrefix
	}
	if attempts <= 0 {
		attempts = DefaultReferenceAttempts
	}
	return &ReferenceAllocator{Prefix: prefix, Attempts: attempts, Now: time.Now, Rand: randomSuffix}
}

// ValidReferencePrefix reports whether prefix is alphanumeric and short
// enough for a full reference to fit MaxReferenceLength.
func ValidReferencePrefix(prefix string) bool {
	if prefix == "" || len(prefix) > MaxReferencePrefixLength {
		return false
	}
	for _, r := range prefix {
		if (r < '0' || r > '9') && (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// Candidate returns one formatted reference without checking uniqueness.
func (a *ReferenceAllocator) Candidate() (string, error) {
	n, err := a.Rand()
	if err != nil {
		return "", fmt.Errorf("reference suffix: %w", err)
	}
	return fmt.Sprintf("%s%02d%0*d", a.Prefix, a.Now().UTC().Year()%100, suffixDigits, n), nil
}

// Allocate generates candidates and hands each to claim until one sticks.
// claim returns errReferenceTaken (or an error wrapping
// ledger.ErrDuplicateReference) to request another candidate; any other
// error aborts.  After Attempts collisions it returns a
// ReferenceAllocationExhausted rejection.
func (a *ReferenceAllocator) Allocate(ctx context.Context, claim func(ref string) error) (string, error) {
	for i := 0; i < a.Attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		ref, err := a.Candidate()
		if err != nil {
			return "", err
		}
		err = claim(ref)
		if err == nil {
			return ref, nil
		}
		if !isCollision(err) {
			return "", err
		}
	}
	return "", reject(CodeReferenceAllocationExhausted,
		fmt.Sprintf("no free reference after %d attempts", a.Attempts))
}

func randomSuffix() (int64, error) {
	n, err := rand.Int(rand.Reader, suffixSpace)
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}

func isCollision(err error) bool {
	return errors.Is(err, errReferenceTaken) || errors.Is(err, ledger.ErrDuplicateReference)
}
