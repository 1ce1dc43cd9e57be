package job

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Bid is a worker's marker claiming intent to run a job. The file name
// (<identity>.bid) is authoritative; the body is advisory.
type Bid struct {
	Identity int64     `json:"identity"`
	Host     string    `json:"host,omitempty"`
	Session  string    `json:"session,omitempty"`
	Created  time.Time `json:"created"`
	Expires  time.Time `json:"expires,omitempty"`
	// Modified is the marker's filesystem timestamp; it is not encoded.
	Modified time.Time `json:"-"`
}

// BidFileName returns the marker file name for an identity.
func BidFileName(identity int64) string {
	return strconv.FormatInt(identity, 10) + BidSuffix
}

// ParseBidFileName extracts the identity from a marker file name.
func ParseBidFileName(name string) (int64, bool) {
	if !strings.HasSuffix(name, BidSuffix) {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSuffix(name, BidSuffix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// EncodeBid renders the marker body.
func EncodeBid(b Bid) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("job: encode bid %d: %w", b.Identity, err)
	}
	return data, nil
}

// DecodeBid reads a marker. Empty or unreadable bodies still yield a bid for
// the identity from the file name, so legacy empty markers are honoured.
func DecodeBid(fileName string, body []byte, modified time.Time) (Bid, bool) {
	id, ok := ParseBidFileName(fileName)
	if !ok {
		return Bid{}, false
	}
	var b Bid
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &b); err != nil {
			b = Bid{}
		}
	}
	b.Identity = id
	b.Modified = modified
	return b, true
}

// Expiry is when the bid stops protecting its job. A zero time means never.
func (b Bid) Expiry(lease time.Duration) time.Time {
	if !b.Expires.IsZero() {
		return b.Expires
	}
	if lease <= 0 {
		return time.Time{}
	}
	base := b.Created
	if base.IsZero() {
		base = b.Modified
	}
	if base.IsZero() {
		return time.Time{}
	}
	return base.Add(lease)
}

// Stale reports whether the bid's lease ran out before now.
func (b Bid) Stale(now time.Time, lease time.Duration) bool {
	if lease <= 0 {
		return false
	}
	exp := b.Expiry(lease)
	return !exp.IsZero() && now.After(exp)
}
