// Package sid derives and parses session identifiers.
//
// A SID is human-decodable by construction: operators read the peer
// address, principal, and start time straight off a session directory
// name without a lookup table. Format:
//
//	<peer>~<principal>~<YYYYMMDD>~<HHMMSS>[~<seq>]
//
// Times are UTC at second granularity. Two sessions from the same peer
// and principal inside the same second collide on the base SID; callers
// resolve that with Disambiguate, never by overwriting.
package sid

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sep joins SID fields. It cannot appear in usernames, normalized
// addresses, or timestamp digits.
const Sep = "~"

// LocalPeer is the peer component for connections with no usable
// client address (console logins, tests).
const LocalPeer = "local"

// SID is an opaque session identifier.
type SID string

// Fields are the decoded components of a SID.
type Fields struct {
	Peer      string
	Principal string
	Date      string // YYYYMMDD
	Time      string // HHMMSS
	Seq       int    // 0 for the base SID, >= 2 for disambiguated ones
}

// New derives the base SID for a session.
func New(peer, principal string, start time.Time) SID {
	t := start.UTC()
	return SID(strings.Join([]string{
		NormalizePeer(peer),
		principal,
		t.Format("20060102"),
		t.Format("150405"),
	}, Sep))
}

// Disambiguate returns the n-th SID for a colliding (peer, principal,
// second) triple. n must be >= 2; the base SID is implicitly n=1.
func (s SID) Disambiguate(n int) SID {
	if n < 2 {
		return s
	}
	return SID(string(s) + Sep + strconv.Itoa(n))
}

// String implements fmt.Stringer.
func (s SID) String() string { return string(s) }

// NormalizePeer reduces a client address to a SID-safe token: the port
// is stripped, IPv6 colons become dashes, and an empty address maps to
// LocalPeer.
func NormalizePeer(peer string) string {
	peer = strings.TrimSpace(peer)
	if peer == "" {
		return LocalPeer
	}
	// SSH_CONNECTION style "addr port": keep the address.
	if i := strings.IndexByte(peer, ' '); i >= 0 {
		peer = peer[:i]
	}
	// host:port for IPv4, [v6]:port for IPv6.
	if strings.HasPrefix(peer, "[") {
		if i := strings.Index(peer, "]"); i >= 0 {
			peer = peer[1:i]
		}
	} else if strings.Count(peer, ":") == 1 {
		peer = peer[:strings.IndexByte(peer, ':')]
	}
	peer = strings.ToLower(peer)
	peer = strings.ReplaceAll(peer, ":", "-")
	if peer == "" {
		return LocalPeer
	}
	return peer
}

// Parse decodes a SID back into its components. Identifiers double as
// store directory names, so anything that could traverse a path is
// rejected outright.
func Parse(s string) (Fields, error) {
	if strings.ContainsAny(s, "/\\") {
		return Fields{}, fmt.Errorf("sid: malformed identifier %q", s)
	}
	parts := strings.Split(s, Sep)
	if len(parts) != 4 && len(parts) != 5 {
		return Fields{}, fmt.Errorf("sid: malformed identifier %q", s)
	}

	f := Fields{
		Peer:      parts[0],
		Principal: parts[1],
		Date:      parts[2],
		Time:      parts[3],
	}
	if f.Peer == "" || f.Principal == "" {
		return Fields{}, fmt.Errorf("sid: empty field in %q", s)
	}
	if _, err := time.Parse("20060102", f.Date); err != nil {
		return Fields{}, fmt.Errorf("sid: bad date in %q: %w", s, err)
	}
	if _, err := time.Parse("150405", f.Time); err != nil {
		return Fields{}, fmt.Errorf("sid: bad time in %q: %w", s, err)
	}

	if len(parts) == 5 {
		n, err := strconv.Atoi(parts[4])
		if err != nil || n < 2 {
			return Fields{}, fmt.Errorf("sid: bad sequence in %q", s)
		}
		f.Seq = n
	}
	return f, nil
}

// Start reconstructs the session start time recorded in the SID.
func (f Fields) Start() time.Time {
	t, _ := time.Parse("20060102"+Sep+"150405", f.Date+Sep+f.Time)
	return t
}
