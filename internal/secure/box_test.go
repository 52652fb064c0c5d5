package secure

import (
	"errors"
	"testing"
)

const (
	keyA = "0123456789abcdef0123456789abcdef"
	keyB = "fedcba9876543210fedcba9876543210"
)

func TestSealOpenRoundTrip(t *testing.T) {
	b := NewWithKeys(keyA)
	sealed, err := b.Seal("refresh_token", "rt-1")
	if err != nil {
		t.Fatalf("seal err=%v", err)
	}
	if sealed == "rt-1" || !IsSealed(sealed) {
		t.Fatalf("sealed=%q not an envelope", sealed)
	}
	plain, err := b.Open("refresh_token", sealed)
	if err != nil || plain != "rt-1" {
		t.Fatalf("plain=%q err=%v want=rt-1", plain, err)
	}
}

func TestOpenRejectsWrongPurpose(t *testing.T) {
	b := NewWithKeys(keyA)
	sealed, _ := b.Seal("refresh_token", "rt-1")
	if _, err := b.Open("api_key", sealed); !errors.Is(err, ErrUndecryptable) {
		t.Fatalf("err=%v want ErrUndecryptable", err)
	}
}

func TestOpenWithPreviousKey(t *testing.T) {
	old := NewWithKeys(keyB)
	sealed, _ := old.Seal("access_token", "at-1")

	rotated := NewWithKeys(keyA, keyB)
	plain, err := rotated.Open("access_token", sealed)
	if err != nil || plain != "at-1" {
		t.Fatalf("plain=%q err=%v want=at-1", plain, err)
	}
	if _, err := NewWithKeys(keyA).Open("access_token", sealed); !errors.Is(err, ErrUndecryptable) {
		t.Fatalf("err=%v want ErrUndecryptable", err)
	}
}

func TestDisabledBoxPassesThrough(t *testing.T) {
	b := NewWithKeys("")
	if b.Enabled() {
		t.Fatalf("box with empty key should be disabled")
	}
	sealed, _ := b.Seal("api_key", "k")
	if sealed != "k" {
		t.Fatalf("sealed=%q want=k", sealed)
	}
	plain, err := b.Open("api_key", "legacy-plain")
	if err != nil || plain != "legacy-plain" {
		t.Fatalf("plain=%q err=%v", plain, err)
	}
}

func TestShortKeyIgnored(t *testing.T) {
	if NewWithKeys("short").Enabled() {
		t.Fatalf("keys under 16 bytes must be ignored")
	}
}
