package vault

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v, err := New("test-master-key")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"api key", "yc_live_abc123def456"},
		{"empty string", ""},
		{"unicode", "ключ-доступа-салона"},
		{"long value", strings.Repeat("x", 4096)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope, err := v.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if !IsEnvelope(envelope) {
				t.Errorf("Encrypt() = %q, want aev1: prefix", envelope)
			}

			got, err := v.Decrypt(envelope)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if got != tt.plaintext {
				t.Errorf("Decrypt() = %q, want %q", got, tt.plaintext)
			}
		})
	}
}

func TestEncryptProducesDistinctCiphertexts(t *testing.T) {
	v, err := New("test-master-key")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	a, err := v.Encrypt("same-value")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	b, err := v.Encrypt("same-value")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if a == b {
		t.Error("two encryptions of the same value produced identical ciphertexts")
	}
}

func TestDecryptRejectsTamperedEnvelope(t *testing.T) {
	v, err := New("test-master-key")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	envelope, err := v.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	// Flip a character in the base64 payload.
	body := strings.TrimPrefix(envelope, "aev1:")
	var flipped byte = 'A'
	if body[len(body)/2] == 'A' {
		flipped = 'B'
	}
	tampered := "aev1:" + body[:len(body)/2] + string(flipped) + body[len(body)/2+1:]

	if _, err := v.Decrypt(tampered); err == nil {
		t.Error("Decrypt() accepted a tampered envelope")
	}
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	v, err := New("test-master-key")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name  string
		input string
	}{
		{"no prefix", "plain-api-key"},
		{"bad base64", "aev1:!!!not-base64!!!"},
		{"too short", "aev1:AAAA"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Decrypt(tt.input); err == nil {
				t.Errorf("Decrypt(%q) succeeded, want error", tt.input)
			}
		})
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	v1, err := New("master-key-one")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	v2, err := New("master-key-two")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	envelope, err := v1.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := v2.Decrypt(envelope); err == nil {
		t.Error("Decrypt() with a different master key succeeded")
	}
}

func TestEncryptIfNeeded(t *testing.T) {
	v, err := New("test-master-key")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Plaintext gets sealed.
	sealed, err := v.EncryptIfNeeded("raw-key")
	if err != nil {
		t.Fatalf("EncryptIfNeeded() error = %v", err)
	}
	if !IsEnvelope(sealed) {
		t.Errorf("EncryptIfNeeded() = %q, want envelope", sealed)
	}

	// Already sealed values pass through unchanged.
	again, err := v.EncryptIfNeeded(sealed)
	if err != nil {
		t.Fatalf("EncryptIfNeeded() error = %v", err)
	}
	if again != sealed {
		t.Error("EncryptIfNeeded() re-encrypted an existing envelope")
	}

	// Empty values pass through.
	empty, err := v.EncryptIfNeeded("")
	if err != nil {
		t.Fatalf("EncryptIfNeeded() error = %v", err)
	}
	if empty != "" {
		t.Errorf("EncryptIfNeeded(\"\") = %q, want empty", empty)
	}
}

func TestNewRequiresMasterKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("New(\"\") succeeded, want error")
	}
}

func TestGenerateMasterKey(t *testing.T) {
	a, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey() error = %v", err)
	}
	b, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey() error = %v", err)
	}
	if a == b {
		t.Error("GenerateMasterKey() returned the same key twice")
	}
}
