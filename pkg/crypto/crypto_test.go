package crypto

import "testing"

func TestSealOpen(t *testing.T) {
	sealed, err := Seal("key", []byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	plain, err := Open("key", sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(plain) != "payload" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
	if _, err := Open("other", sealed); err == nil {
		t.Fatal("expected authentication failure with wrong key")
	}
	if _, err := Open("key", []byte{1, 2}); err == nil {
		t.Fatal("expected short payload error")
	}
}

func TestFingerprintSeparatesFields(t *testing.T) {
	a := NewFingerprint()
	a.Add("ab", "c")
	b := NewFingerprint()
	b.Add("a", "bc")
	if a.Sum() == b.Sum() {
		t.Fatal("expected distinct digests for shifted field boundaries")
	}

	c := NewFingerprint()
	c.Add("ab", "c")
	if a.Sum() != c.Sum() {
		t.Fatal("expected identical digests for identical input")
	}
}
