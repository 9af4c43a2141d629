package gossip

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

/*
Wire Format

Every broadcast is a single ASCII record, colon delimited, no framing:

	network_id:identity:status:x:p:q:epoch:message_counter

	x       fixed six decimals
	p, q    shortest float form, integral values keep a trailing ".0"
	epoch   unsigned decimal
	counter unsigned decimal, strictly increasing per sender

Unmodified peers on the mesh parse this byte for byte, so field order and
number formatting must not change.

Only network_id, identity, status, x and epoch are interpreted by receivers.
A record with fewer than seven fields is rejected, so the trailing counter is
optional on input.
*/

const (
	messageFields    = 8
	minMessageFields = 7
)

// Message is one decoded broadcast.
type Message struct {
	NetworkID string
	From      NodeID
	Status    string
	X         float64
	P         float64
	Q         float64
	Epoch     uint64
	Counter   uint64
}

// Encode renders m in the canonical wire format.
func Encode(m Message) []byte {
	var b strings.Builder
	b.Grow(64)
	b.WriteString(m.NetworkID)
	b.WriteByte(':')
	b.WriteString(string(m.From))
	b.WriteByte(':')
	b.WriteString(m.Status)
	b.WriteByte(':')
	b.WriteString(strconv.FormatFloat(m.X, 'f', 6, 64))
	b.WriteByte(':')
	b.WriteString(formatParam(m.P))
	b.WriteByte(':')
	b.WriteString(formatParam(m.Q))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(m.Epoch, 10))
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(m.Counter, 10))
	return []byte(b.String())
}

// formatParam matches the way the device firmware prints floats: shortest
// round-trip form, with ".0" kept on integral values.
func formatParam(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// Decode parses a wire record. Any error wraps ErrMalformedMessage or
// ErrForeignNetwork; callers discard the message and carry on.
func Decode(raw []byte, networkID string) (Message, error) {
	parts := strings.Split(string(raw), ":")
	if len(parts) < minMessageFields {
		return Message{}, fmt.Errorf("%w: %d fields", ErrMalformedMessage, len(parts))
	}
	if parts[0] != networkID {
		return Message{}, fmt.Errorf("%w: %q", ErrForeignNetwork, parts[0])
	}

	x, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
	if err != nil {
		return Message{}, fmt.Errorf("%w: x: %v", ErrMalformedMessage, err)
	}
	if math.IsNaN(x) || math.IsInf(x, 0) || x <= 0 {
		return Message{}, fmt.Errorf("%w: x out of range: %v", ErrMalformedMessage, x)
	}

	epoch, err := strconv.ParseUint(strings.TrimSpace(parts[6]), 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("%w: epoch: %v", ErrMalformedMessage, err)
	}

	m := Message{
		NetworkID: parts[0],
		From:      NodeID(parts[1]),
		Status:    parts[2],
		X:         x,
		Epoch:     epoch,
	}
	// informational fields, zero when unreadable
	m.P, _ = strconv.ParseFloat(parts[4], 64)
	m.Q, _ = strconv.ParseFloat(parts[5], 64)
	if len(parts) >= messageFields {
		m.Counter, _ = strconv.ParseUint(parts[7], 10, 64)
	}
	return m, nil
}
