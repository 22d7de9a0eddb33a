package realtime

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TicketSigner issues and validates short-lived subscription tickets. A ticket binds an owner id
// to an expiry and lets a browser open the websocket without sending its bearer token in the URL.
type TicketSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTicketSigner constructs a signer with the provided secret and TTL.
func NewTicketSigner(secret string, ttl time.Duration) *TicketSigner {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TicketSigner{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed ticket for ownerID.
func (s *TicketSigner) Issue(ownerID string) (string, time.Time, error) {
	if ownerID == "" {
		return "", time.Time{}, fmt.Errorf("owner id required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("ticket secret missing")
	}
	expiresAt := s.now().Add(s.ttl).Truncate(time.Second)
	encodedOwner := base64.RawURLEncoding.EncodeToString([]byte(ownerID))
	ts := strconv.FormatInt(expiresAt.Unix(), 10)
	token := strings.Join([]string{encodedOwner, ts, s.sign(encodedOwner, ts)}, ".")
	return token, expiresAt, nil
}

// Parse validates a ticket and returns the owner id it was issued for.
func (s *TicketSigner) Parse(token string) (string, error) {
	if len(s.secret) == 0 {
		return "", fmt.Errorf("ticket secret missing")
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid ticket format")
	}
	encodedOwner, ts, signature := parts[0], parts[1], parts[2]

	if !hmac.Equal([]byte(s.sign(encodedOwner, ts)), []byte(signature)) {
		return "", fmt.Errorf("invalid ticket signature")
	}
	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid ticket timestamp")
	}
	if s.now().After(time.Unix(expUnix, 0)) {
		return "", fmt.Errorf("ticket expired")
	}
	owner, err := base64.RawURLEncoding.DecodeString(encodedOwner)
	if err != nil {
		return "", fmt.Errorf("decode owner: %w", err)
	}
	return string(owner), nil
}

func (s *TicketSigner) sign(encodedOwner, ts string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(encodedOwner + "|" + ts))
	return hex.EncodeToString(mac.Sum(nil))
}
