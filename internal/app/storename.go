package app

import (
	"regexp"
	"strings"
)

var (
	storePrefixPattern = regexp.MustCompile(`.* on `)
	linkLabelPattern   = regexp.MustCompile(`Link (.*) account`)
)

// ExtractStore turns offer copy like "Prey for PC on GOG.com." into the store key
// "gog.com". It reports false when the text names no store.
func ExtractStore(text string) (string, bool) {
	lower := strings.ToLower(text)
	loc := storePrefixPattern.FindStringIndex(lower)
	if loc == nil {
		return "", false
	}
	store := lower[:loc[0]] + lower[loc[1]:]
	store = strings.TrimSuffix(strings.TrimSpace(store), ".")
	store = strings.TrimSpace(store)
	if store == "" {
		return "", false
	}
	return store, true
}

// LinkedStoreFromLabel pulls the store out of a link button label such as
// "Link Origin account". Labels that do not follow the pattern are returned as is.
func LinkedStoreFromLabel(label string) string {
	label = strings.TrimSpace(label)
	if m := linkLabelPattern.FindStringSubmatch(label); len(m) == 2 {
		return m[1]
	}
	return label
}
