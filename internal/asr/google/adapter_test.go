package google

import (
	"errors"
	"testing"

	"github.com/jkang1643/exbabel-relay/internal/asr"
)

func TestResolveLanguage(t *testing.T) {
	cases := []struct {
		lang     string
		fallback bool
		want     string
		wantErr  bool
	}{
		{"en", false, "en-US", false},
		{"ES", false, "es-ES", false},
		{" de ", false, "de-DE", false},
		{"en-gb", false, "en-GB", false},
		{"zz", true, "en-US", false},
		{"zz", false, "", true},
	}
	for _, c := range cases {
		got, err := ResolveLanguage(c.lang, c.fallback)
		if c.wantErr {
			if !errors.Is(err, asr.ErrUnsupportedLanguage) {
				t.Errorf("ResolveLanguage(%q) err = %v, want ErrUnsupportedLanguage", c.lang, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ResolveLanguage(%q) err = %v", c.lang, err)
			continue
		}
		if got != c.want {
			t.Errorf("ResolveLanguage(%q) = %q, want %q", c.lang, got, c.want)
		}
	}
}
