package fieldcrypt

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/healthmate/healthmate/internal/platform/apperr"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(testKey, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestService_RoundTrip(t *testing.T) {
	svc := newTestService(t)
	if !svc.Enabled() {
		t.Fatal("expected encryption enabled")
	}

	ct, err := svc.Encrypt("felt dizzy after lunch")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !strings.HasPrefix(ct, prefix) || strings.Contains(ct, "dizzy") {
		t.Errorf("ciphertext looks wrong: %q", ct)
	}

	pt, err := svc.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if pt != "felt dizzy after lunch" {
		t.Errorf("got %q", pt)
	}
}

func TestService_NonceIsRandom(t *testing.T) {
	svc := newTestService(t)
	a, _ := svc.Encrypt("same")
	b, _ := svc.Encrypt("same")
	if a == b {
		t.Error("expected distinct ciphertexts for the same plaintext")
	}
}

func TestService_LegacyPlaintextPassesThrough(t *testing.T) {
	svc := newTestService(t)
	pt, err := svc.Decrypt("written before encryption was enabled")
	if err != nil || pt != "written before encryption was enabled" {
		t.Errorf("got (%q, %v)", pt, err)
	}
}

func TestService_TamperedCiphertext(t *testing.T) {
	svc := newTestService(t)
	ct, _ := svc.Encrypt("secret")
	tampered := ct[:len(ct)-4] + "AAAA"
	if _, err := svc.Decrypt(tampered); !apperr.Is(err, apperr.CodeEncryption) {
		t.Errorf("expected ENCRYPTION_ERROR, got %v", err)
	}
}

func TestService_Disabled(t *testing.T) {
	svc, err := NewService("", zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.Enabled() {
		t.Error("expected disabled service")
	}
	out, _ := svc.Encrypt("plain")
	if out != "plain" {
		t.Errorf("disabled service should not modify values, got %q", out)
	}
}

func TestNewService_InvalidKey(t *testing.T) {
	for _, key := range []string{"not-hex", "abcd"} {
		if _, err := NewService(key, zerolog.Nop()); err == nil {
			t.Errorf("expected error for key %q", key)
		}
	}
}

func TestService_Pointers(t *testing.T) {
	svc := newTestService(t)
	if out, err := svc.EncryptPtr(nil); out != nil || err != nil {
		t.Errorf("nil should stay nil, got (%v, %v)", out, err)
	}

	note := "took with food"
	enc, err := svc.EncryptPtr(&note)
	if err != nil {
		t.Fatalf("EncryptPtr: %v", err)
	}
	if err := svc.DecryptPtr(enc); err != nil {
		t.Fatalf("DecryptPtr: %v", err)
	}
	if *enc != note {
		t.Errorf("got %q, want %q", *enc, note)
	}
}
