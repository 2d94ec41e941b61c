package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(pub)
}

func TestParseRoundTrip(t *testing.T) {
	key := testKey(t)
	u, err := Parse("[alice@pad.example.com/" + key + "]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Username != "alice" || u.Domain != "pad.example.com" || u.PublicKey != key {
		t.Fatalf("unexpected parse result: %+v", u)
	}
	if Serialize(u) != "[alice@pad.example.com/"+key+"]" {
		t.Fatalf("serialize mismatch: %q", Serialize(u))
	}
}

func TestParseWithoutBrackets(t *testing.T) {
	key := testKey(t)
	u, err := Parse("bob@pad.example.com/" + key)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Username != "bob" {
		t.Fatalf("expected bob, got %q", u.Username)
	}
}

func TestParseRejectsBadKey(t *testing.T) {
	cases := []string{
		"alice@pad.example.com/too-short",
		"alice@pad.example.com/",
		"alicepad.example.com",
		"@pad.example.com/" + testKey(t),
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Fatalf("expected error for %q", c)
		}
	}
}

func TestValidKey(t *testing.T) {
	if !ValidKey(testKey(t)) {
		t.Fatalf("expected generated key to validate")
	}
	if ValidKey("AAAA") {
		t.Fatalf("short string should not validate")
	}
}
