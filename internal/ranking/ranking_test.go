package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func noUsage(string) uint64 { return 0 }

func TestSearch_ExactNameMatchRanksAboveSubstring(t *testing.T) {
	candidates := []Candidate{
		{Name: "list_pods", Description: "lists kubernetes pods"},
		{Name: "pods", Description: "a tool literally named pods"},
	}

	results := Search("pods", candidates, noUsage, nil)

	require := assert.New(t)
	require.Len(results, 2)
	require.Equal("pods", results[0].Candidate.Name, "exact name match should outrank a substring match")
	require.Greater(results[0].Score, results[1].Score)
}

func TestSearch_PrefixBeatsContains(t *testing.T) {
	candidates := []Candidate{
		{Name: "deploy_service"},  // prefix match on "deploy"
		{Name: "redeploy_all"},    // contains match on "deploy"
	}

	results := Search("deploy", candidates, noUsage, nil)

	assert.Equal(t, "deploy_service", results[0].Candidate.Name)
}

func TestSearch_TagMatchIsDiscountedRelativeToNameMatch(t *testing.T) {
	candidates := []Candidate{
		{Name: "networking", Tags: []string{"other"}},
		{Name: "other_tool", Tags: []string{"networking"}},
	}

	results := Search("networking", candidates, noUsage, nil)

	assert.Equal(t, "networking", results[0].Candidate.Name, "name match beats a discounted tag match")
}

func TestSearch_UsageBreaksTieBetweenEquallyLexicallyScoredTools(t *testing.T) {
	candidates := []Candidate{
		{Name: "alpha_tool"},
		{Name: "beta_tool"},
	}
	usage := func(name string) uint64 {
		if name == "beta_tool" {
			return 100
		}
		return 0
	}

	results := Search("tool", candidates, usage, nil)

	assert.Equal(t, "beta_tool", results[0].Candidate.Name)
}

func TestSearch_TiesBrokenByNameAscending(t *testing.T) {
	candidates := []Candidate{
		{Name: "zeta"},
		{Name: "alpha"},
	}

	// Empty query yields a lexical score of 0 for every candidate, and no
	// usage data, so both candidates tie at score 0.
	results := Search("", candidates, noUsage, nil)

	assert.Equal(t, "alpha", results[0].Candidate.Name)
	assert.Equal(t, "zeta", results[1].Candidate.Name)
}

func TestSearch_ChainsWithBonusPromotesPartnerOfRecentlyUsedTool(t *testing.T) {
	candidates := []Candidate{
		{Name: "create_cluster", ChainsWith: []string{"configure_cluster"}},
		{Name: "configure_cluster"},
		{Name: "unrelated_tool"},
	}

	withoutRecency := Search("cluster", candidates, noUsage, nil)
	withRecency := Search("cluster", candidates, noUsage, []string{"create_cluster"})

	var scoreBefore, scoreAfter float64
	for _, r := range withoutRecency {
		if r.Candidate.Name == "configure_cluster" {
			scoreBefore = r.Score
		}
	}
	for _, r := range withRecency {
		if r.Candidate.Name == "configure_cluster" {
			scoreAfter = r.Score
		}
	}

	assert.Greater(t, scoreAfter, scoreBefore, "chains_with partner of a recently-used tool should be promoted")
}

func TestSearch_DescriptionWordMatchHasTinyWeight(t *testing.T) {
	candidates := []Candidate{
		{Name: "status_checker", Description: "checks the health of a cluster"},
	}

	results := Search("cluster", candidates, noUsage, nil)

	assert.Less(t, results[0].Score, 0.2, "a description-only match should score far below a name match")
}

func TestSearch_NoMatchScoresZeroLexicalComponent(t *testing.T) {
	candidates := []Candidate{
		{Name: "completely_unrelated", Description: "nothing in common"},
	}

	results := Search("xyzzy", candidates, noUsage, nil)

	assert.Equal(t, 0.0, results[0].Score)
}

func TestSearch_SchemaFieldMatchContributesDiscountedScore(t *testing.T) {
	candidates := []Candidate{
		{Name: "fetch_data", SchemaFields: []string{"namespace"}},
	}

	results := Search("namespace", candidates, noUsage, nil)

	assert.InDelta(t, alpha*scoreExact*synonymDiscount, results[0].Score, 0.001)
}
