// Package templates decides which configuration template applies to an item.
// Matching is rule-based with first-match-wins selection; there is no scoring.
package templates

import (
	"fmt"
	"regexp"
	"strings"

	"conveyor/internal/queue"
	"conveyor/internal/services"
	"conveyor/internal/textutil"
)

// Matches evaluates one template's configured rule categories against an
// item. Categories with no rules are skipped entirely rather than counting as
// failures; the configured categories combine per the template's match mode.
func Matches(item *queue.Item, tpl *queue.Template) (bool, error) {
	if item == nil || tpl == nil {
		return false, nil
	}
	if !tpl.HasRules() {
		return false, nil
	}

	anyMatched := false
	allMatched := true
	record := func(matched bool) {
		if matched {
			anyMatched = true
		} else {
			allMatched = false
		}
	}

	if len(tpl.MatchNames) > 0 {
		record(matchesName(item.Title, tpl.MatchNames))
	}
	if len(tpl.MatchFuzzy) > 0 {
		record(matchesFuzzy(item.Title, tpl.MatchFuzzy))
	}
	if len(tpl.MatchKeywords) > 0 {
		record(matchesKeyword(item.Title, tpl.MatchKeywords))
	}
	if len(tpl.MatchPatterns) > 0 {
		matched, err := matchesPattern(item.Title, tpl.MatchPatterns)
		if err != nil {
			return false, err
		}
		record(matched)
	}
	if len(tpl.MatchSourceIDs) > 0 {
		record(matchesSource(item.SourceID, tpl.MatchSourceIDs))
	}

	if tpl.MatchMode == queue.MatchAll {
		return allMatched, nil
	}
	return anyMatched, nil
}

// Select walks templates in creation order and returns the first match, or
// nil when nothing applies. Callers pass the output of ListTemplates, which
// already orders by creation time ascending.
func Select(item *queue.Item, candidates []*queue.Template) (*queue.Template, error) {
	for _, tpl := range candidates {
		matched, err := Matches(item, tpl)
		if err != nil {
			return nil, err
		}
		if matched {
			return tpl, nil
		}
	}
	return nil, nil
}

// Preview reports which template would be selected without mutating anything.
// It is the dry-run form of automatic matching.
func Preview(item *queue.Item, candidates []*queue.Template) (*queue.Template, error) {
	return Select(item, candidates)
}

// Name rules are exact: the title must equal the configured display name
// byte for byte. Owners who want tolerance to casing, punctuation, or word
// order configure fuzzy rules instead.
func matchesName(title string, names []string) bool {
	for _, name := range names {
		if title == name {
			return true
		}
	}
	return false
}

// fuzzySimilarityThreshold is the cosine score above which a title counts as
// a fuzzy match.
const fuzzySimilarityThreshold = 0.85

func matchesFuzzy(title string, names []string) bool {
	titleFP := textutil.NewFingerprint(title)
	for _, name := range names {
		if textutil.CosineSimilarity(titleFP, textutil.NewFingerprint(name)) >= fuzzySimilarityThreshold {
			return true
		}
	}
	return false
}

func matchesKeyword(title string, keywords []string) bool {
	lowered := strings.ToLower(title)
	for _, keyword := range keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

func matchesPattern(title string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, services.Wrap(services.ErrValidation, "templates", "match",
				fmt.Sprintf("invalid pattern %q", pattern), err)
		}
		if re.MatchString(title) {
			return true, nil
		}
	}
	return false, nil
}

func matchesSource(sourceID int64, sources []int64) bool {
	for _, candidate := range sources {
		if candidate == sourceID {
			return true
		}
	}
	return false
}
