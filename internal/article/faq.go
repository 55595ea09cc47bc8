package article

import (
	"golang.org/x/text/cases"
)

// FAQ bounds.
const (
	MinFAQ = 2
	MaxFAQ = 3
)

// DefaultFAQ backfills reconstructed documents that lost their FAQ.
var DefaultFAQ = []FAQ{
	{
		Question: "Jak często warto praktykować jogę?",
		Answer:   "Najlepiej regularnie, nawet kilka razy w tygodniu po kilkanaście minut, dopasowując intensywność do swoich możliwości.",
	},
	{
		Question: "Czy joga jest odpowiednia dla początkujących?",
		Answer:   "Tak. Warto zacząć od prostych pozycji i świadomego oddechu, a w razie wątpliwości skonsultować się z instruktorem.",
	},
	{
		Question: "Czego potrzebuję, aby zacząć praktykę w domu?",
		Answer:   "Wystarczy mata, wygodny strój i kilka minut spokoju. Pomocne bywają też klocki i pasek.",
	},
}

// SanitizeFAQ normalizes whitespace, drops entries missing a question or an
// answer, removes case-insensitive duplicate questions (first wins) and keeps
// at most limit entries. It never adds entries.
func SanitizeFAQ(items []FAQ, limit int) []FAQ {
	fold := cases.Fold()
	seen := make(map[string]struct{}, len(items))
	out := make([]FAQ, 0, len(items))
	for _, item := range items {
		q := normalizeSpace(item.Question)
		a := normalizeSpace(item.Answer)
		if q == "" || a == "" {
			continue
		}
		key := fold.String(q)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, FAQ{Question: q, Answer: a})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// backfillFAQ tops items up to minItems from DefaultFAQ, skipping questions
// that are already present.
func backfillFAQ(items []FAQ, minItems int) []FAQ {
	if len(items) >= minItems {
		return items
	}
	merged := SanitizeFAQ(append(append([]FAQ(nil), items...), DefaultFAQ...), 0)
	if len(merged) > minItems {
		merged = merged[:minItems]
	}
	return merged
}
