package extraction

import (
	"strings"

	"github.com/ternarybob/quarry/internal/models"
)

// CandidateMatcher filters observed candidates by substrings of their description and locator.
// Matching is case-insensitive. An empty matcher accepts every candidate.
type CandidateMatcher struct {
	DescriptionContains    string   `toml:"description_contains" yaml:"description_contains"`
	LocatorContains        string   `toml:"locator_contains" yaml:"locator_contains"`
	LocatorExcludeSuffixes []string `toml:"locator_exclude_suffixes" yaml:"locator_exclude_suffixes"`
}

// Match reports whether the candidate satisfies every configured condition
func (m CandidateMatcher) Match(candidate models.ActionCandidate) bool {
	description := strings.ToLower(candidate.Description)
	locator := strings.ToLower(candidate.Locator)

	if m.DescriptionContains != "" && !strings.Contains(description, strings.ToLower(m.DescriptionContains)) {
		return false
	}
	if m.LocatorContains != "" && !strings.Contains(locator, strings.ToLower(m.LocatorContains)) {
		return false
	}
	for _, suffix := range m.LocatorExcludeSuffixes {
		if suffix != "" && strings.HasSuffix(locator, strings.ToLower(suffix)) {
			return false
		}
	}
	return true
}

// First returns the first matching candidate
func (m CandidateMatcher) First(candidates []models.ActionCandidate) (models.ActionCandidate, bool) {
	for _, candidate := range candidates {
		if m.Match(candidate) {
			return candidate, true
		}
	}
	return models.ActionCandidate{}, false
}

// Any reports whether at least one candidate matches
func (m CandidateMatcher) Any(candidates []models.ActionCandidate) bool {
	_, ok := m.First(candidates)
	return ok
}
