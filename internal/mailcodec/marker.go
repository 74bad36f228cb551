package mailcodec

import "strings"

// FORWARD_MARKER is prepended to every outbound Subject and checked on
// every inbound Subject to break mutual-forwarding loops between managed
// mailboxes. The exact byte sequence (Greek capital Rho, Latin capital
// C, Greek capital Beta, colon, space) must match existing deployments
// bit-for-bit; see percebe_server.py's REENVIO_MARKER.
const FORWARD_MARKER = "ΡCΒ: "

// IsLoop reports whether subject already carries the forward marker
// anywhere in its text, meaning this message originated from this same
// forwarding system (or a peer using the identical marker) and must not
// be re-forwarded.
func IsLoop(subject string) bool {
	return strings.Contains(subject, FORWARD_MARKER)
}
