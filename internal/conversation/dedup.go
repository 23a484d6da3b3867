package conversation

import (
	"strings"
	"time"
)

// matchProvisional finds the provisional message a confirmed outbound message
// replaces: first by correlation token, then the oldest provisional with an
// identical body within tolerance.
func matchProvisional(c *Conversation, m Message, tolerance time.Duration) int {
	if !m.FromMe || m.Provisional() {
		return -1
	}
	if m.ClientMsgID != "" {
		if i := c.indexOf(m.ClientMsgID); i >= 0 && c.Messages[i].Provisional() {
			return i
		}
	}
	for i, p := range c.Messages {
		if !p.Provisional() || !p.FromMe {
			continue
		}
		if bodiesMatch(p.Body, m.Body) && withinTolerance(p.Timestamp, m.Timestamp, tolerance) {
			return i
		}
	}
	return -1
}

func bodiesMatch(a, b string) bool {
	return strings.Join(strings.Fields(a), " ") == strings.Join(strings.Fields(b), " ")
}

func withinTolerance(a, b time.Time, tolerance time.Duration) bool {
	if a.IsZero() || b.IsZero() {
		return true
	}
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
