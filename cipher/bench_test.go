package cipher

import "testing"

// BenchmarkEncryptor_Encrypt measures the per-batch encryption cost.
func BenchmarkEncryptor_Encrypt(b *testing.B) {
	enc, err := NewEncryptor(DeriveKey("k", "p"))
	if err != nil {
		b.Fatalf("NewEncryptor() error = %v", err)
	}
	payload := map[string]any{"a": 1, "b": "hello world"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := enc.Encrypt(payload); err != nil {
			b.Fatalf("Encrypt() error = %v", err)
		}
	}
}

// BenchmarkEncryptor_Decrypt measures the per-batch decryption cost.
func BenchmarkEncryptor_Decrypt(b *testing.B) {
	enc, err := NewEncryptor(DeriveKey("k", "p"))
	if err != nil {
		b.Fatalf("NewEncryptor() error = %v", err)
	}
	payload := map[string]any{"a": 1, "b": "hello world"}
	encoded, err := enc.Encrypt(payload)
	if err != nil {
		b.Fatalf("Encrypt() error = %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var out map[string]any
		if err := enc.Decrypt(encoded, &out); err != nil {
			b.Fatalf("Decrypt() error = %v", err)
		}
	}
}
