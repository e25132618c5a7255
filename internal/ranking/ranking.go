// Package ranking scores and orders tool candidates for the Meta-MCP
// search_tools operation: a lexical substring-match component blended
// with a usage-popularity component, plus a bonus for tools that chain
// off whatever the caller recently invoked.
package ranking

import (
	"math"
	"sort"
	"strings"
)

// Weights for the two score components, per spec.md §4.8: score =
// alpha*lexical + beta*usage.
const (
	alpha = 0.7
	beta  = 0.3

	// synonymDiscount is applied to a tag or schema-field match rather
	// than a name match, per the discount hinted at in the original
	// ranking module's doc comment. Description words use
	// descriptionWordWeight instead.
	synonymDiscount = 0.8

	// chainsWithBonus is added, post-normalization, to any candidate
	// listed in a recently-used tool's chains_with hint.
	chainsWithBonus = 0.15

	descriptionWordWeight = 0.1
)

// lexical match tiers, highest first.
const (
	scoreExact    = 1.0
	scorePrefix   = 0.7
	scoreContains = 0.4
)

// Candidate is one searchable tool: a backend-exposed MCP tool or a
// capability, reduced to the fields search ranking cares about.
type Candidate struct {
	Name         string
	Description  string
	Tags         []string
	SchemaFields []string
	ChainsWith   []string
}

// Result is a Candidate annotated with its computed score.
type Result struct {
	Candidate Candidate
	Score     float64
}

// Search scores every candidate against query, blends in usage(name) —
// the invocation count for that candidate, used to compute the usage
// component — and promotes candidates chained from recentlyUsed tools.
// Results are sorted by descending score, ties broken by name ascending.
func Search(query string, candidates []Candidate, usage func(name string) uint64, recentlyUsed []string) []Result {
	maxUsage := uint64(0)
	usageByName := make(map[string]uint64, len(candidates))
	for _, c := range candidates {
		u := usage(c.Name)
		usageByName[c.Name] = u
		if u > maxUsage {
			maxUsage = u
		}
	}

	chainBonusFor := chainsWithSet(candidates, recentlyUsed)

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		lexical := lexicalScore(query, c)
		usageScore := normalizedUsage(usageByName[c.Name], maxUsage)

		score := alpha*lexical + beta*usageScore
		if chainBonusFor[c.Name] {
			score += chainsWithBonus
		}
		results = append(results, Result{Candidate: c, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Candidate.Name < results[j].Candidate.Name
	})

	return results
}

// normalizedUsage is log(1+invocations) normalized by the log(1+max)
// across all candidates, so the best-used tool scores exactly 1.0.
func normalizedUsage(invocations, maxUsage uint64) float64 {
	if maxUsage == 0 {
		return 0
	}
	return math.Log1p(float64(invocations)) / math.Log1p(float64(maxUsage))
}

// lexicalScore is the max, over every searchable token on the candidate,
// of a substring-match score (exact > prefix > contains). Name matches
// score at full weight; tag and schema-field matches count as synonym
// matches and are discounted; description-word matches carry only a
// tiny weight since they're the noisiest signal.
func lexicalScore(query string, c Candidate) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}

	best := 0.0
	consider := func(token string, weight float64) {
		s := matchScore(q, strings.ToLower(token)) * weight
		if s > best {
			best = s
		}
	}

	consider(c.Name, 1.0)

	for _, tag := range c.Tags {
		consider(tag, synonymDiscount)
	}
	for _, field := range c.SchemaFields {
		consider(field, synonymDiscount)
	}

	for _, word := range strings.Fields(c.Description) {
		consider(word, descriptionWordWeight)
	}

	return best
}

// matchScore scores a single token against the query: exact equality
// beats a prefix match beats a plain substring match; no match is 0.
func matchScore(query, token string) float64 {
	if token == "" {
		return 0
	}
	switch {
	case token == query:
		return scoreExact
	case strings.HasPrefix(token, query):
		return scorePrefix
	case strings.Contains(token, query):
		return scoreContains
	default:
		return 0
	}
}

// chainsWithSet returns the set of candidate names that are listed as a
// chains_with composition partner of any recently-used tool.
func chainsWithSet(candidates []Candidate, recentlyUsed []string) map[string]bool {
	recent := make(map[string]bool, len(recentlyUsed))
	for _, name := range recentlyUsed {
		recent[name] = true
	}

	bonus := make(map[string]bool)
	for _, c := range candidates {
		if !recent[c.Name] {
			continue
		}
		for _, partner := range c.ChainsWith {
			bonus[partner] = true
		}
	}
	return bonus
}
