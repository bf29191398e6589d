package ipc

import "slices"

// Protocol is a payload encoding an endpoint can speak
type Protocol string

const (
	// ProtocolJSON is always supported and carries every lifecycle message
	ProtocolJSON Protocol = "json"
	// ProtocolCBOR is the compact binary encoding
	ProtocolCBOR Protocol = "cbor"
	// ProtocolStructured passes message objects without encoding
	ProtocolStructured Protocol = "structured"
)

// preference lists upgrades from most to least preferred
var preference = []Protocol{ProtocolStructured, ProtocolCBOR}

// Negotiate picks the best protocol advertised by both sides.
// It is symmetric, so both ends of an endpoint pick the same one.
func Negotiate(local, remote []Protocol) Protocol {
	for _, p := range preference {
		if slices.Contains(local, p) && slices.Contains(remote, p) {
			return p
		}
	}
	return ProtocolJSON
}

// Advertise returns the protocols to announce given what the module wants
// and what the transport can carry. JSON is always included.
func Advertise(wanted, supported []Protocol) []Protocol {
	out := []Protocol{ProtocolJSON}
	for _, p := range preference {
		if slices.Contains(wanted, p) && slices.Contains(supported, p) {
			out = append(out, p)
		}
	}
	return out
}
