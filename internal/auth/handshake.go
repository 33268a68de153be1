// Package auth implements the MySQL/MariaDB handshake greeting parse,
// capability negotiation, and the native-password authentication
// response, grounded on the HandshakeV10 parsing in
// JeelKantaria-db-bouncer's pool.authenticateMySQL and cross-checked
// against go-mysql-org/go-mysql's client/auth.go readInitialHandshake.
package auth

import (
	"fmt"

	"github.com/dbbouncer/asyncmy/internal/proto"
	"github.com/dbbouncer/asyncmy/internal/wire"
)

// Greeting is the parsed HandshakeV10 packet the server sends first.
type Greeting struct {
	ProtocolVersion byte
	ServerVersion   string
	ConnectionID    uint32
	Scramble        []byte // up to 20 bytes, part1(8) + part2 concatenated
	Capabilities    proto.CapabilitySet
	Charset         byte
	StatusFlags     uint16
	AuthPluginName  string
}

// ParseGreeting parses the body of a 0x0A-tagged greeting packet. body
// must already have the leading protocol-version byte available (it is
// read here, not peeled off by the caller) — unlike OK/ERR, the greeting
// tag IS the protocol version byte, so there's nothing to strip.
func ParseGreeting(body []byte) (*Greeting, error) {
	r := wire.NewReader(body)

	protoVersion, err := r.ReadInt8()
	if err != nil {
		return nil, fmt.Errorf("auth: reading protocol version: %w", err)
	}
	if protoVersion != proto.TagGreeting {
		return nil, fmt.Errorf("auth: unexpected protocol version 0x%02x, want 0x%02x", protoVersion, proto.TagGreeting)
	}

	serverVersion, err := r.ReadNullString()
	if err != nil {
		return nil, fmt.Errorf("auth: reading server version: %w", err)
	}

	connID, err := r.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("auth: reading connection id: %w", err)
	}

	scramble1, err := r.ReadFixedString(8)
	if err != nil {
		return nil, fmt.Errorf("auth: reading scramble part 1: %w", err)
	}
	if err := r.Skip(1); err != nil { // filler, always 0x00
		return nil, fmt.Errorf("auth: reading filler: %w", err)
	}

	capLower, err := r.ReadInt16()
	if err != nil {
		return nil, fmt.Errorf("auth: reading lower capability flags: %w", err)
	}

	charset, err := r.ReadInt8()
	if err != nil {
		return nil, fmt.Errorf("auth: reading charset: %w", err)
	}
	statusFlags, err := r.ReadInt16()
	if err != nil {
		return nil, fmt.Errorf("auth: reading status flags: %w", err)
	}
	capUpper, err := r.ReadInt16()
	if err != nil {
		return nil, fmt.Errorf("auth: reading upper capability flags: %w", err)
	}

	caps := proto.CapabilitySet(uint32(capLower) | uint32(capUpper)<<16)

	authDataLen, err := r.ReadInt8()
	if err != nil {
		return nil, fmt.Errorf("auth: reading auth-data length: %w", err)
	}
	if err := r.Skip(10); err != nil { // reserved
		return nil, fmt.Errorf("auth: reading reserved bytes: %w", err)
	}

	scramble := append([]byte(nil), scramble1...)
	var authPluginName string
	if caps.Has(proto.CapabilitySecureConnection) {
		part2Len := int(authDataLen) - 8
		if part2Len < 13 {
			part2Len = 13
		}
		part2, err := r.ReadFixedString(part2Len)
		if err != nil {
			return nil, fmt.Errorf("auth: reading scramble part 2: %w", err)
		}
		// part2 is NUL-padded to its declared width; trim exactly one
		// trailing NUL, matching the wire layout (the real scramble data
		// is part2Len-1 bytes plus a terminator byte).
		if len(part2) > 0 && part2[len(part2)-1] == 0x00 {
			part2 = part2[:len(part2)-1]
		}
		scramble = append(scramble, part2...)
	}

	if caps.Has(proto.CapabilityPluginAuth) {
		// The spec allows any trailing field to be absent if the packet
		// simply ends there; some servers also send the plugin name
		// without its NUL terminator when it's the packet's last byte.
		if r.Len() == 0 {
			return &Greeting{
				ProtocolVersion: protoVersion,
				ServerVersion:   string(serverVersion),
				ConnectionID:    connID,
				Scramble:        scramble,
				Capabilities:    caps,
				Charset:         charset,
				StatusFlags:     statusFlags,
			}, nil
		}
		name, err := r.ReadNullString()
		if err != nil {
			name = r.ReadEOFString()
		}
		authPluginName = string(name)
	}

	return &Greeting{
		ProtocolVersion: protoVersion,
		ServerVersion:   string(serverVersion),
		ConnectionID:    connID,
		Scramble:        scramble,
		Capabilities:    caps,
		Charset:         charset,
		StatusFlags:     statusFlags,
		AuthPluginName:  authPluginName,
	}, nil
}

// Negotiate intersects the client's requested capabilities with the
// server's offered set, per spec.md §4.2: "Negotiated capabilities =
// client ∧ server."
func Negotiate(greeting *Greeting) proto.CapabilitySet {
	return proto.RequestedCapabilities.Intersect(greeting.Capabilities)
}
