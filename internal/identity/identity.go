// Package identity parses the user strings exchanged with the document
// product: `user@domain/pubkey`, optionally wrapped in square brackets.
// The public key is the base64 encoding of a 32-byte Ed25519 key and is
// always exactly 44 characters.
package identity

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"strings"
)

// KeyLength is the base64 length of an encoded Ed25519 public key.
const KeyLength = 44

// User identifies one account on one instance.
type User struct {
	Username string
	Domain   string
	PublicKey string
}

// ValidKey reports whether s has the shape of an encoded public key.
func ValidKey(s string) bool {
	if len(s) != KeyLength || !strings.HasSuffix(s, "=") {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}
	return len(raw) == ed25519.PublicKeySize
}

// DecodeKey decodes an encoded public key into its raw bytes.
func DecodeKey(s string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("identity: decode key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: bad key length %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Parse splits a user string into its parts.
func Parse(user string) (User, error) {
	s := strings.TrimSpace(user)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")

	slash := strings.LastIndexByte(s, '/')
	if slash < 0 {
		return User{}, fmt.Errorf("identity: missing key separator in %q", user)
	}
	key := s[slash+1:]
	if !ValidKey(key) {
		return User{}, fmt.Errorf("identity: invalid public key in %q", user)
	}

	at := strings.LastIndexByte(s[:slash], '@')
	if at < 0 {
		return User{}, fmt.Errorf("identity: missing domain separator in %q", user)
	}
	name := s[:at]
	domain := s[at+1 : slash]
	if name == "" || domain == "" {
		return User{}, fmt.Errorf("identity: empty user or domain in %q", user)
	}

	return User{Username: name, Domain: domain, PublicKey: key}, nil
}

// Serialize is the inverse of Parse.
func Serialize(u User) string {
	return fmt.Sprintf("[%s@%s/%s]", u.Username, u.Domain, u.PublicKey)
}
