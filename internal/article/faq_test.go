package article

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeFAQ(t *testing.T) {
	t.Parallel()

	in := []FAQ{
		{Question: "  Jak  zacząć? ", Answer: "Powoli,\n od oddechu."},
		{Question: "JAK ZACZĄĆ?", Answer: "Duplikat."},
		{Question: "", Answer: "Brak pytania."},
		{Question: "Czy bez maty?", Answer: " "},
		{Question: "Ile razy w tygodniu?", Answer: "Dwa lub trzy."},
		{Question: "Rano czy wieczorem?", Answer: "Kiedy masz czas."},
		{Question: "Czy joga boli?", Answer: "Nie powinna."},
	}
	got := SanitizeFAQ(in, MaxFAQ)
	require.Equal(t, []FAQ{
		{Question: "Jak zacząć?", Answer: "Powoli, od oddechu."},
		{Question: "Ile razy w tygodniu?", Answer: "Dwa lub trzy."},
		{Question: "Rano czy wieczorem?", Answer: "Kiedy masz czas."},
	}, got)
}

func TestSanitizeFAQNeverAdds(t *testing.T) {
	t.Parallel()

	require.Empty(t, SanitizeFAQ(nil, MaxFAQ))
	require.Len(t, SanitizeFAQ([]FAQ{{Question: "Jedno pytanie?", Answer: "Jedna odpowiedź."}}, MaxFAQ), 1)
}

func TestBackfillFAQ(t *testing.T) {
	t.Parallel()

	own := FAQ{Question: "Czy joga pomaga na stres?", Answer: "Tak, szczególnie praca z oddechem."}
	got := backfillFAQ([]FAQ{own}, MinFAQ)
	require.Equal(t, []FAQ{own, DefaultFAQ[0]}, got)

	full := []FAQ{own, DefaultFAQ[1]}
	require.Equal(t, full, backfillFAQ(full, MinFAQ))

	dup := backfillFAQ([]FAQ{DefaultFAQ[0]}, MinFAQ)
	require.Equal(t, []FAQ{DefaultFAQ[0], DefaultFAQ[1]}, dup)
}
