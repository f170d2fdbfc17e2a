package passphrase

import "testing"

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("SETTLE_TEST_PASSPHRASE", "correct horse")
	src := NewSource("SETTLE_TEST_PASSPHRASE", "admin keystore")
	got, err := src.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "correct horse" {
		t.Fatalf("unexpected passphrase %q", got)
	}
	t.Setenv("SETTLE_TEST_PASSPHRASE", "changed")
	if again, _ := src.Get(); again != "correct horse" {
		t.Fatalf("expected cached passphrase, got %q", again)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("SETTLE_TEST_PASSPHRASE", "   ")
	if _, err := NewSource("SETTLE_TEST_PASSPHRASE", "").Get(); err == nil {
		t.Fatal("expected error for blank passphrase")
	}
}
