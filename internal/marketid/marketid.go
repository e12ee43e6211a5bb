// Package marketid formats and parses the stable identity key of a lending
// market.
//
// Format: {protocol}-{network}-{asset}
//   - protocol: one of the supported protocols (aave, benqi)
//   - network:  lowercase chain name (avalanche, ethereum, ...)
//   - asset:    lowercase 0x-prefixed 20-byte underlying address, or
//     "native" for the chain's native coin
//
// Example: aave-avalanche-0xb97ef9ef8734c71904d8002f8b6bc66dd9c48a6e
package marketid

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/atmx/lending-engine/internal/model"
)

// NativeAsset is the asset component used for native-coin markets.
const NativeAsset = "native"

var (
	idRegex = regexp.MustCompile(
		`^([a-z]+)-([a-z0-9]+)-(0x[0-9a-f]{40}|native)$`,
	)
	networkRegex = regexp.MustCompile(`^[a-z0-9]+$`)
)

var (
	ErrInvalidID       = errors.New("marketid: invalid market id format")
	ErrInvalidProtocol = errors.New("marketid: unsupported protocol")
	ErrInvalidNetwork  = errors.New("marketid: invalid network (want lowercase letters and digits only)")
	ErrInvalidAsset    = errors.New("marketid: invalid asset address")
)

// ID is a parsed market identity.
type ID struct {
	Protocol model.Protocol `json:"protocol"`
	Network  model.Network  `json:"network"`
	Asset    string         `json:"asset"` // lowercase address or NativeAsset
}

// IsNative reports whether the id names a native-coin market.
func (id ID) IsNative() bool {
	return id.Asset == NativeAsset
}

func (id ID) String() string {
	return fmt.Sprintf("%s-%s-%s", id.Protocol, id.Network, id.Asset)
}

// ValidNetwork reports whether n can appear in a market id once lowercased.
// Hyphens are not allowed since they separate id components.
func ValidNetwork(n model.Network) bool {
	return networkRegex.MatchString(strings.ToLower(string(n)))
}

// New builds the market id for an underlying asset. An empty underlying
// address denotes the native coin. Address case is ignored so the same
// asset always maps to the same id.
func New(p model.Protocol, n model.Network, underlying string) (string, error) {
	if !p.Valid() {
		return "", fmt.Errorf("%w: %s", ErrInvalidProtocol, p)
	}
	if !ValidNetwork(n) {
		return "", fmt.Errorf("%w: %q", ErrInvalidNetwork, n)
	}
	asset := strings.ToLower(strings.TrimSpace(underlying))
	if asset == "" {
		asset = NativeAsset
	}
	id := ID{Protocol: p, Network: model.Network(strings.ToLower(string(n))), Asset: asset}
	if _, err := Parse(id.String()); err != nil {
		return "", err
	}
	return id.String(), nil
}

// Parse parses and validates a market id.
func Parse(s string) (*ID, error) {
	matches := idRegex.FindStringSubmatch(s)
	if matches == nil {
		parts := strings.SplitN(s, "-", 3)
		if len(parts) == 3 && !strings.Contains(parts[2], "-") && idRegex.MatchString(parts[0]+"-"+parts[1]+"-native") {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAsset, parts[2])
		}
		return nil, fmt.Errorf("%w: %s (expected {protocol}-{network}-{0xaddress|native})",
			ErrInvalidID, s)
	}

	p := model.Protocol(matches[1])
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProtocol, matches[1])
	}

	return &ID{
		Protocol: p,
		Network:  model.Network(matches[2]),
		Asset:    matches[3],
	}, nil
}
