package bootstrap

import (
	"os"
	"testing"
)

const localDevBundle = "../../examples/bundles/local-dev.yaml"

func TestCanonicalizeIsIdempotent(t *testing.T) {
	raw, err := os.ReadFile(localDevBundle)
	if err != nil {
		t.Fatal(err)
	}
	once, err := Canonicalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := Canonicalize(once)
	if err != nil {
		t.Fatal(err)
	}
	if string(once) != string(twice) {
		t.Fatalf("canonicalize is not idempotent:\n  once:  %s\n  twice: %s", once, twice)
	}
}

func TestCanonicalizeSortsKeysRegardlessOfSourceOrder(t *testing.T) {
	a := []byte("a: 1\nb: 2\n")
	b := []byte("b: 2\na: 1\n")

	ca, err := Canonicalize(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := Canonicalize(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(ca) != string(cb) {
		t.Fatalf("expected equivalent representations to canonicalize identically, got %s vs %s", ca, cb)
	}
}

func TestCanonicalizeNormalizesLineEndings(t *testing.T) {
	crlf := []byte("a: 1\r\nb: 2\r\n")
	lf := []byte("a: 1\nb: 2\n")

	got, err := Canonicalize(crlf)
	if err != nil {
		t.Fatal(err)
	}
	want, err := Canonicalize(lf)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Fatalf("CRLF input canonicalized differently: %s vs %s", got, want)
	}
}

func TestGoldenDigest(t *testing.T) {
	raw, err := os.ReadFile(localDevBundle)
	if err != nil {
		t.Fatal(err)
	}
	canonical, err := Canonicalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	const wantDigest = "8a540cc680596977d7f5a334528d1db2c4cc6e26fb954da0f4d4f7e6f827e7b2"
	if got := Digest(canonical); got != wantDigest {
		t.Fatalf("Digest() = %s, want %s (canonical bytes: %s)", got, wantDigest, canonical)
	}
}

func TestCanonicalizeTamperBreaksDigest(t *testing.T) {
	raw, err := os.ReadFile(localDevBundle)
	if err != nil {
		t.Fatal(err)
	}
	canonical, err := Canonicalize(raw)
	if err != nil {
		t.Fatal(err)
	}
	tampered := append([]byte(nil), canonical...)
	tampered[0] ^= 0x01
	if Digest(tampered) == Digest(canonical) {
		t.Fatal("expected flipping a byte of canonical output to change the digest")
	}
}
