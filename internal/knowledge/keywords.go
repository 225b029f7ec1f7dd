package knowledge

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kljensen/snowball/english"
)

// minKeywordRunes is the shortest token kept as a keyword.
const minKeywordRunes = 4

var stopWords = toSet(
	// italian
	"il", "la", "lo", "i", "gli", "le", "un", "una", "uno", "di", "a", "da", "in", "con", "su",
	"per", "tra", "fra", "che", "chi", "come", "dove", "quando", "perché", "perche", "cosa",
	"quale", "quanto", "e", "o", "ma", "se", "non", "si", "no", "sì", "io", "tu", "lui", "lei",
	"noi", "voi", "loro", "sono", "della", "delle", "dello", "degli", "questo", "questa",
	"quello", "quella", "anche", "ancora", "molto", "ogni", "ciao", "grazie",
	// english
	"this", "that", "with", "have", "from", "they", "them", "been", "were", "what", "when",
	"where", "which", "there", "their", "about", "would", "could", "should", "into", "does",
	"doesn", "didn", "just", "please", "hello", "thanks", "some", "than", "then", "also",
	"very", "your", "will", "still",
)

// domainVocabulary terms are added whenever they occur anywhere in the text,
// including inside longer words.
var domainVocabulary = []string{
	"lista", "list", "rinnovo", "renewal", "scadenza", "expiry", "ticket", "supporto",
	"aiuto", "problema", "errore", "notifica", "notification", "cancellazione", "deletion",
	"richiesta", "request",
}

// ExtractKeywords lowercases text, keeps word tokens of at least four
// characters that are not stop words, then appends matching domain
// vocabulary. The result is deduplicated in order of first appearance.
func ExtractKeywords(text string) []string {
	lower := strings.ToLower(text)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	add := func(w string) {
		if _, dup := seen[w]; dup {
			return
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}

	for _, tok := range tokens {
		if utf8.RuneCountInString(tok) < minKeywordRunes {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		add(tok)
	}
	for _, term := range domainVocabulary {
		if strings.Contains(lower, term) {
			add(term)
		}
	}
	return out
}

// Jaccard returns |a∩b| / |a∪b| over stemmed keyword sets. Empty unions
// score zero.
func Jaccard(a, b []string) float64 {
	sa, sb := stemSet(a), stemSet(b)
	union := len(sa)
	inter := 0
	for w := range sb {
		if _, ok := sa[w]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// stemSet folds inflections ("buffering", "buffers") onto one stem.
func stemSet(words []string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		out[english.Stem(w, false)] = struct{}{}
	}
	return out
}

func toSet(words ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}
