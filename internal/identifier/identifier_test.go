package identifier

import (
	"strings"
	"testing"

	clierr "github.com/ggonzalez94/solsum/internal/errors"
)

func TestKindOfLengthBoundary(t *testing.T) {
	for n := 1; n <= 120; n++ {
		value := strings.Repeat("A", n)
		want := KindAccountAddress
		if n > MaxAddressLength {
			want = KindTransactionSignature
		}
		if got := KindOf(value); got != want {
			t.Fatalf("length %d: expected %s, got %s", n, want, got)
		}
	}
}

func TestClassifyAddress(t *testing.T) {
	id, err := Classify("  86xCnPeV69n6t3DnyGvkKobf9FdN2H9oiVDdaMpo2MMY\n")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !id.IsAddress() || id.Value != "86xCnPeV69n6t3DnyGvkKobf9FdN2H9oiVDdaMpo2MMY" {
		t.Fatalf("unexpected identifier: %+v", id)
	}
}

func TestClassifySignature(t *testing.T) {
	sig := strings.Repeat("5", 88)
	id, err := Classify(sig)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !id.IsSignature() || id.Value != sig {
		t.Fatalf("unexpected identifier: %+v", id)
	}
}

func TestClassifyAcceptsMalformedInput(t *testing.T) {
	id, err := Classify("not-base58-at-all!")
	if err != nil {
		t.Fatalf("expected length-only classification, got %v", err)
	}
	if id.Kind != KindAccountAddress {
		t.Fatalf("unexpected kind: %s", id.Kind)
	}
}

func TestClassifyRejectsBlankInput(t *testing.T) {
	for _, input := range []string{"", "   ", "\t\n"} {
		_, err := Classify(input)
		if !clierr.Is(err, clierr.CodeUsage) {
			t.Fatalf("input %q: expected usage error, got %v", input, err)
		}
	}
}

func TestKindOfCountsCharactersNotBytes(t *testing.T) {
	value := strings.Repeat("é", MaxAddressLength)
	if got := KindOf(value); got != KindAccountAddress {
		t.Fatalf("expected 44 multibyte characters to be an address, got %s", got)
	}
}
