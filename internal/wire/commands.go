package wire

import "fmt"

// Client-to-server verb builders, per spec.md §6. Grounded on the
// teacher's stratum.Message constructors (NewSubscribeMessage etc) and on
// the real nats.go client's const proto format strings.
const (
	crlfStr = "\r\n"
)

// Connect formats a CONNECT command from a pre-marshaled JSON payload.
func Connect(json []byte) string {
	return fmt.Sprintf("CONNECT %s%s", json, crlfStr)
}

// Pub formats a PUB command; payload bytes are written separately by the
// caller (send buffer keeps the header line and payload as one chunk, or
// two adjacent chunks, never splitting mid-CRLF).
func Pub(subject, reply string, size int) string {
	if reply == "" {
		return fmt.Sprintf("PUB %s %d%s", subject, size, crlfStr)
	}
	return fmt.Sprintf("PUB %s %s %d%s", subject, reply, size, crlfStr)
}

// Sub formats a SUB command.
func Sub(subject, queue string, sid uint64) string {
	if queue == "" {
		return fmt.Sprintf("SUB %s %d%s", subject, sid, crlfStr)
	}
	return fmt.Sprintf("SUB %s %s %d%s", subject, queue, sid, crlfStr)
}

// Unsub formats an UNSUB command, with an optional max.
func Unsub(sid uint64, max int) string {
	if max > 0 {
		return fmt.Sprintf("UNSUB %d %d%s", sid, max, crlfStr)
	}
	return fmt.Sprintf("UNSUB %d%s", sid, crlfStr)
}

// Ping formats a PING command.
func Ping() string { return "PING" + crlfStr }

// Pong formats a PONG command.
func Pong() string { return "PONG" + crlfStr }
