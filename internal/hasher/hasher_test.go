package hasher

import (
	"bytes"
	"strings"
	"testing"
)

func TestSumSHA256KnownVector(t *testing.T) {
	t.Parallel()

	h, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := h.Sum([]byte("abc"))
	want := "sha256:ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("Sum = %s, want %s", got, want)
	}
}

func TestSumIsDeterministicPerAlgorithm(t *testing.T) {
	t.Parallel()

	for _, algo := range []string{SHA256, BLAKE3} {
		h, err := New(algo)
		if err != nil {
			t.Fatalf("New(%s): %v", algo, err)
		}

		payload := []byte("the same bytes from two different urls")
		first := h.Sum(payload)
		second := h.Sum(append([]byte(nil), payload...))
		if first != second {
			t.Fatalf("%s: fingerprints differ: %s vs %s", algo, first, second)
		}
		if !strings.HasPrefix(first, algo+":") {
			t.Fatalf("%s: missing algorithm prefix in %s", algo, first)
		}
		if other := h.Sum([]byte("different")); other == first {
			t.Fatalf("%s: distinct payloads share fingerprint", algo)
		}
	}
}

func TestSumReaderMatchesSum(t *testing.T) {
	t.Parallel()

	h, err := New(BLAKE3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	payload := bytes.Repeat([]byte{0xAB}, 1<<16)
	got, n, err := h.SumReader(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("SumReader: %v", err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("read %d bytes, want %d", n, len(payload))
	}
	if got != h.Sum(payload) {
		t.Fatalf("SumReader and Sum disagree")
	}
}

func TestNewRejectsUnknownAlgorithm(t *testing.T) {
	t.Parallel()

	if _, err := New("md5"); err == nil {
		t.Fatalf("expected error for md5")
	}
}

func TestSplit(t *testing.T) {
	t.Parallel()

	algo, digest, err := Split("sha256:00ff")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if algo != "sha256" || digest != "00ff" {
		t.Fatalf("unexpected split %s %s", algo, digest)
	}

	for _, bad := range []string{"", "sha256", ":00", "sha256:zz"} {
		if _, _, err := Split(bad); err == nil {
			t.Fatalf("Split(%q) should fail", bad)
		}
	}
}
