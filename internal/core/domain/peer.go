package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Direction says which way match queries flow between this node and a peer.
type Direction string

const (
	// DirectionInbound marks peers allowed to send queries to this node.
	DirectionInbound Direction = "inbound"

	// DirectionOutbound marks peers this node forwards queries to.
	DirectionOutbound Direction = "outbound"
)

// ErrInsecurePeer is returned when an outbound peer address is not https.
var ErrInsecurePeer = errors.New("peer base address must use https")

// ParseDirection accepts the canonical names and the short in/out aliases
// used by older peer tables.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inbound", "in":
		return DirectionInbound, nil
	case "outbound", "out":
		return DirectionOutbound, nil
	default:
		return "", fmt.Errorf("unknown peer direction %q", s)
	}
}

// Peer is a federation partner.
type Peer struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	BaseAddress  string    `json:"baseAddress,omitempty"`
	Direction    Direction `json:"direction"`
	SharedSecret string    `json:"-"`
}

// Validate checks the peer invariants. Outbound peers must carry an https
// base address; inbound peers may omit it.
func (p Peer) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("peer id is required")
	}
	switch p.Direction {
	case DirectionInbound, DirectionOutbound:
	default:
		return fmt.Errorf("peer %s: unknown direction %q", p.ID, p.Direction)
	}
	if p.Direction == DirectionOutbound || p.BaseAddress != "" {
		if err := CheckHTTPS(p.BaseAddress); err != nil {
			return fmt.Errorf("peer %s: %w", p.ID, err)
		}
	}
	return nil
}

// MatchURL returns the peer's match endpoint.
func (p Peer) MatchURL() string {
	return strings.TrimRight(p.BaseAddress, "/") + "/match"
}

// CheckHTTPS reports ErrInsecurePeer unless addr is an absolute https URL.
func CheckHTTPS(addr string) error {
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInsecurePeer, addr)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrInsecurePeer, addr)
	}
	return nil
}
