package orders

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Client order IDs placed by this service are structured so a fill or cancel
// seen later can be traced back to its signal and entry tranche.
// Format: S15-[SIG8]-T[N]-[RAND4], e.g. "S15-1a2b3c4d-T1-9f3e".
const (
	clientOrderIDPrefix = "S15"

	// MaxClientOrderIDLength is the limit Binance enforces.
	MaxClientOrderIDLength = 36
)

// ErrInvalidClientOrderID reports an ID this service did not generate.
var ErrInvalidClientOrderID = errors.New("invalid client order ID format")

// BuildClientOrderID creates a traceable client order ID for one entry
// tranche of a signal. signalID may be a full UUID; only its first eight
// hex characters are embedded.
func BuildClientOrderID(signalID string, tranche int) string {
	short := strings.ReplaceAll(signalID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	if short == "" {
		short = "manual00"
	}

	suffix := make([]byte, 2)
	rand.Read(suffix)

	return fmt.Sprintf("%s-%s-T%d-%s", clientOrderIDPrefix, short, tranche, hex.EncodeToString(suffix))
}

// ParseClientOrderID extracts the signal short ID and tranche index from a
// structured client order ID.
func ParseClientOrderID(id string) (signalShort string, tranche int, err error) {
	parts := strings.Split(id, "-")
	if len(parts) != 4 || parts[0] != clientOrderIDPrefix {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidClientOrderID, id)
	}
	if !strings.HasPrefix(parts[2], "T") {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidClientOrderID, id)
	}
	tranche, convErr := strconv.Atoi(parts[2][1:])
	if convErr != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidClientOrderID, id)
	}
	return parts[1], tranche, nil
}

// IsOurOrder reports whether a client order ID was generated by this service.
func IsOurOrder(id string) bool {
	_, _, err := ParseClientOrderID(id)
	return err == nil
}
