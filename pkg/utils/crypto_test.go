package utils

import (
	"strings"
	"testing"
)

func TestConfigureEncryption(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		wantKeySet bool
	}{
		{
			name:       "empty secret does not set key",
			secret:     "",
			wantKeySet: false,
		},
		{
			name:       "valid secret sets key",
			secret:     "test-secret-key-32-bytes-long!!",
			wantKeySet: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encryptionKey = nil
			ConfigureEncryption(tt.secret)

			if tt.wantKeySet && encryptionKey == nil {
				t.Error("expected encryption key to be set")
			}
			if !tt.wantKeySet && encryptionKey != nil {
				t.Error("expected encryption key to not be set")
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	ConfigureEncryption("test-encryption-secret-32-bytes!!")

	for _, plaintext := range []string{"", "JBSWY3DPEHPK3PXP", "hello 世界"} {
		encrypted, err := EncryptAESGCM(plaintext)
		if err != nil {
			t.Fatalf("encrypt %q failed: %v", plaintext, err)
		}
		if encrypted == plaintext && plaintext != "" {
			t.Fatalf("ciphertext equals plaintext for %q", plaintext)
		}

		decrypted, err := DecryptAESGCM(encrypted)
		if err != nil {
			t.Fatalf("decrypt %q failed: %v", plaintext, err)
		}
		if decrypted != plaintext {
			t.Fatalf("round trip mismatch: want %q, got %q", plaintext, decrypted)
		}
	}
}

func TestEncryptAESGCM_Nondeterministic(t *testing.T) {
	ConfigureEncryption("test-encryption-secret-32-bytes!!")

	first, err := EncryptAESGCM("same input")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	second, err := EncryptAESGCM("same input")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if first == second {
		t.Fatal("two encryptions of the same input should differ")
	}
}

func TestDecryptAESGCM_Garbage(t *testing.T) {
	ConfigureEncryption("test-encryption-secret-32-bytes!!")

	if _, err := DecryptAESGCM("not-base64!!!"); err == nil {
		t.Fatal("expected error decrypting invalid base64")
	}
	if _, err := DecryptAESGCM("YWJj"); err == nil || !strings.Contains(err.Error(), "too short") {
		t.Fatalf("expected too-short error, got %v", err)
	}
}

func TestDecryptOrPlaintext(t *testing.T) {
	ConfigureEncryption("test-encryption-secret-32-bytes!!")

	encrypted, err := EncryptAESGCM("secret-value")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if got := DecryptOrPlaintext(encrypted); got != "secret-value" {
		t.Fatalf("expected decrypted value, got %q", got)
	}

	// A legacy plaintext value passes through untouched.
	if got := DecryptOrPlaintext("JBSWY3DPEHPK3PXP"); got != "JBSWY3DPEHPK3PXP" {
		t.Fatalf("expected passthrough, got %q", got)
	}
	if got := DecryptOrPlaintext(""); got != "" {
		t.Fatalf("expected empty passthrough, got %q", got)
	}
}
