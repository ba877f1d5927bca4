package extraction

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/quarry/internal/models"
)

func TestCandidateMatcher_Defaults(t *testing.T) {
	recipe := DefaultRecipe()

	tests := []struct {
		name      string
		matcher   CandidateMatcher
		candidate models.ActionCandidate
		want      bool
	}{
		{"cart button", recipe.Matchers.Cart, models.ActionCandidate{Description: "Cart", Locator: "//header/button"}, true},
		{"cart text", recipe.Matchers.Cart, models.ActionCandidate{Description: "Your cart is empty", Locator: "//div/span"}, false},
		{"unrelated button", recipe.Matchers.Cart, models.ActionCandidate{Description: "Menu", Locator: "//button"}, false},
		{"show more button", recipe.Matchers.ShowMore, models.ActionCandidate{Description: "Show More", Locator: "//main/button"}, true},
		{"show more text node", recipe.Matchers.ShowMore, models.ActionCandidate{Description: "Show more", Locator: "//main/button/text()"}, false},
		{"login any", recipe.Matchers.Login, models.ActionCandidate{Description: "anything"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.matcher.Match(tt.candidate))
		})
	}
}

func TestCandidateMatcher_FirstAndAny(t *testing.T) {
	matcher := DefaultRecipe().Matchers.ShowMore
	candidates := []models.ActionCandidate{
		{Description: "Show more", Locator: "//x/text()"},
		{Description: "Show more orders", Locator: "//x/button[1]"},
		{Description: "Show more orders", Locator: "//x/button[2]"},
	}

	first, ok := matcher.First(candidates)
	require.True(t, ok)
	assert.Equal(t, "//x/button[1]", first.Locator)

	assert.False(t, matcher.Any(nil))
	assert.False(t, DefaultRecipe().Matchers.Login.Any(nil))
}

func TestDefaultRecipe_Valid(t *testing.T) {
	assert.NoError(t, DefaultRecipe().Validate())

	recipe := DefaultRecipe()
	recipe.Instructions.LoadMore = " "
	assert.Error(t, recipe.Validate())
}

func TestLoadRecipe_TOMLOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipe.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
name = "doordash"
start_url = "https://www.doordash.com/"

[instructions]
load_more = "click Load More"

[matchers.show_more]
description_contains = "load more"
locator_exclude_suffixes = ["/text()", "/span"]
`), 0644))

	recipe, err := LoadRecipe(path)
	require.NoError(t, err)

	assert.Equal(t, "doordash", recipe.Name)
	assert.Equal(t, "click Load More", recipe.Instructions.LoadMore)
	assert.Equal(t, DefaultRecipe().Instructions.OpenOrders, recipe.Instructions.OpenOrders)
	assert.Equal(t, "load more", recipe.Matchers.ShowMore.DescriptionContains)
	assert.Equal(t, []string{"/text()", "/span"}, recipe.Matchers.ShowMore.LocatorExcludeSuffixes)
	assert.Equal(t, "cart", recipe.Matchers.Cart.DescriptionContains)
}

func TestLoadRecipe_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: grubhub
matchers:
  cart:
    description_contains: bag
    locator_contains: button
`), 0644))

	recipe, err := LoadRecipe(path)
	require.NoError(t, err)

	assert.Equal(t, "grubhub", recipe.Name)
	assert.Equal(t, "bag", recipe.Matchers.Cart.DescriptionContains)
	assert.Equal(t, DefaultRecipe().Instructions.LoadMore, recipe.Instructions.LoadMore)
}

func TestLoadRecipe_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadRecipe(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)

	unsupported := filepath.Join(dir, "recipe.json")
	require.NoError(t, os.WriteFile(unsupported, []byte(`{}`), 0644))
	_, err = LoadRecipe(unsupported)
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.toml")
	require.NoError(t, os.WriteFile(empty, []byte("[instructions]\nopen_orders = \"\"\n"), 0644))
	_, err = LoadRecipe(empty)
	assert.Error(t, err)
}
