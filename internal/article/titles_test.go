package article

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestTrimTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "short", in: "Joga na co dzień", want: "Joga na co dzień"},
		{name: "multiline", in: "Joga\n  na co\tdzień", want: "Joga na co dzień"},
		{
			name: "word boundary",
			in:   "Joga dla początkujących: kompletny przewodnik po pierwszych tygodniach praktyki",
			want: "Joga dla początkujących: kompletny przewodnik po pierwszych",
		},
		{
			name: "trailing punctuation",
			in:   "Oddech, ruch i uważność — jak joga wspiera zdrowie kręgosłupa na co dzień",
			want: "Oddech, ruch i uważność — jak joga wspiera zdrowie",
		},
		{name: "no whitespace", in: strings.Repeat("a", 80), want: strings.Repeat("a", 60)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := TrimTitle(tt.in, DefaultTitleLimit)
			require.Equal(t, tt.want, got)
			require.LessOrEqual(t, utf8.RuneCountInString(got), DefaultTitleLimit)
		})
	}
}
