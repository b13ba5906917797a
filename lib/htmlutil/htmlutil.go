package htmlutil

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Parse builds a queryable document out of a page body. Discuz pages are
// frequently malformed, the html5 parser recovers from all of it.
func Parse(page string) (*goquery.Document, error) {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromNode(root), nil
}

func normalizeRune(r rune) rune {
	if unicode.IsSpace(r) {
		return ' '
	}
	if !unicode.IsPrint(r) {
		return -1
	}
	return r
}

// CleanText returns the printable text of the first node in the selection
// with whitespace trimmed and inner runs of whitespace collapsed.
func CleanText(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	text := strings.Map(normalizeRune, sel.First().Text())
	return strings.Join(strings.Fields(text), " ")
}

// FirstSubmatch tries each pattern in order against `text` and returns the first
// capture group of the first pattern that matches.
func FirstSubmatch(text string, patterns ...*regexp.Regexp) (string, int, bool) {
	for i, p := range patterns {
		groups := p.FindStringSubmatch(text)
		if len(groups) < 2 {
			continue
		}
		return groups[1], i, true
	}
	return "", -1, false
}
