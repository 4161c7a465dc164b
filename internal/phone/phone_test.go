package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"already canonical", "5492645280229", "5492645280229"},
		{"legacy form gains indicator", "542645280229", "5492645280229"},
		{"punctuation stripped", "+54 9 264 528-0229", "5492645280229"},
		{"legacy with punctuation", "+54 (264) 528-0229", "5492645280229"},
		{"foreign number untouched", "14155552671", "14155552671"},
		{"empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Canonicalize(tc.in))
		})
	}
}

// Both historical representations of the same real number must collapse to
// one canonical string.
func TestCanonicalize_FormatsConverge(t *testing.T) {
	legacy := Canonicalize("542645280229")
	modern := Canonicalize("5492645280229")
	assert.Equal(t, modern, legacy)
}

func TestCanonicalize_Idempotent(t *testing.T) {
	for _, in := range []string{"5492645280229", "542645280229", "14155552671"} {
		once := Canonicalize(in)
		assert.Equal(t, once, Canonicalize(once), "input %q", in)
	}
}

func TestForDispatch(t *testing.T) {
	assert.Equal(t, "542645280229", ForDispatch("5492645280229"))
	assert.Equal(t, "14155552671", ForDispatch("14155552671"))

	// Round trip: dispatch form canonicalizes back to the original.
	assert.Equal(t, "5492645280229", Canonicalize(ForDispatch("5492645280229")))
}

func TestLegacy(t *testing.T) {
	assert.Equal(t, "542645280229", Legacy("5492645280229"))
	assert.Equal(t, "", Legacy("14155552671"))
}
