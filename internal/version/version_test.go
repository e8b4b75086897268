package version

import (
	"testing"

	"github.com/fatih/color"
)

func TestColoredPlain(t *testing.T) {
	prevNoColor := color.NoColor
	prevVersion := Version
	t.Cleanup(func() {
		color.NoColor = prevNoColor
		Version = prevVersion
	})
	color.NoColor = true

	cases := []struct {
		in   string
		want string
	}{
		{"0.1.0-dev", "0.1.0-dev"},
		{"1.2.3", "1.2.3"},
		{"nightly", "nightly"},
		{"  ", "dev"},
	}
	for _, tc := range cases {
		Version = tc.in
		if got := Colored(); got != tc.want {
			t.Fatalf("Colored(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestColoredHighlights(t *testing.T) {
	prevNoColor := color.NoColor
	prevVersion := Version
	t.Cleanup(func() {
		color.NoColor = prevNoColor
		Version = prevVersion
	})
	color.NoColor = false
	Version = "1.2.3"

	if got := Colored(); got == "1.2.3" {
		t.Fatalf("Colored() = %q, want escape sequences", got)
	}
}
