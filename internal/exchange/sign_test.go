package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"testing"
	"time"
)

func fixedSigner() *Signer {
	s := NewSigner("test-key", "test-secret")
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return s
}

func TestSignQueryStampsTimestampAndRecvWindow(t *testing.T) {
	t.Parallel()
	s := fixedSigner()

	q := s.SignQuery(url.Values{"symbol": {"BTCUSDT"}})

	parsed, err := url.ParseQuery(q)
	if err != nil {
		t.Fatalf("parse signed query: %v", err)
	}
	if got := parsed.Get("timestamp"); got != "1700000000000" {
		t.Errorf("timestamp = %q", got)
	}
	if got := parsed.Get("recvWindow"); got != "5000" {
		t.Errorf("recvWindow = %q", got)
	}
	if parsed.Get("signature") == "" {
		t.Error("signature missing")
	}
}

func TestSignQuerySignatureMatchesManualHMAC(t *testing.T) {
	t.Parallel()
	s := fixedSigner()

	q := s.SignQuery(nil)

	payload, sig, ok := strings.Cut(q, "&signature=")
	if !ok {
		t.Fatalf("no signature suffix in %q", q)
	}

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(payload))
	want := hex.EncodeToString(mac.Sum(nil))
	if sig != want {
		t.Errorf("signature = %s, want %s", sig, want)
	}
}

func TestSignQueryIsDeterministicForSameParams(t *testing.T) {
	t.Parallel()
	s := fixedSigner()

	a := s.SignQuery(url.Values{"symbol": {"ETHUSDT"}})
	b := s.SignQuery(url.Values{"symbol": {"ETHUSDT"}})
	if a != b {
		t.Errorf("signatures differ for identical input:\n%s\n%s", a, b)
	}
}
