package extraction

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Instructions are the natural-language steps handed to the action provider
type Instructions struct {
	DetectLogin    string `toml:"detect_login" yaml:"detect_login"`
	DetectCart     string `toml:"detect_cart" yaml:"detect_cart"`
	DetectOverlay  string `toml:"detect_overlay" yaml:"detect_overlay"`
	DismissOverlay string `toml:"dismiss_overlay" yaml:"dismiss_overlay"`
	OpenNavigation string `toml:"open_navigation" yaml:"open_navigation"`
	OpenOrders     string `toml:"open_orders" yaml:"open_orders"`
	LoadMore       string `toml:"load_more" yaml:"load_more"`
	ExtractOrders  string `toml:"extract_orders" yaml:"extract_orders"`
}

// Matchers filter observed candidates for each probe
type Matchers struct {
	Login    CandidateMatcher `toml:"login" yaml:"login"`
	Cart     CandidateMatcher `toml:"cart" yaml:"cart"`
	Overlay  CandidateMatcher `toml:"overlay" yaml:"overlay"`
	ShowMore CandidateMatcher `toml:"show_more" yaml:"show_more"`
}

// Recipe describes how to walk one site's order history
type Recipe struct {
	Name         string       `toml:"name" yaml:"name"`
	StartURL     string       `toml:"start_url" yaml:"start_url"`
	Instructions Instructions `toml:"instructions" yaml:"instructions"`
	Matchers     Matchers     `toml:"matchers" yaml:"matchers"`
}

// DefaultRecipe targets the Uber Eats order history
func DefaultRecipe() *Recipe {
	return &Recipe{
		Name:     "ubereats",
		StartURL: "https://www.ubereats.com/",
		Instructions: Instructions{
			DetectLogin:    "find the log in or sign in button",
			DetectCart:     "find the cart button in the header",
			DetectOverlay:  "find the close button of any popup or modal covering the page",
			DismissOverlay: "click the close button of the popup or modal covering the page",
			OpenNavigation: "click the main menu button in the top left corner",
			OpenOrders:     "click on Orders in the menu",
			LoadMore:       "click the Show more button at the bottom of the orders list",
			ExtractOrders: "extract every order in the order history: the restaurant name, the order date, " +
				"the order time, the order total as a number, and whether the order was canceled",
		},
		Matchers: Matchers{
			Cart: CandidateMatcher{
				DescriptionContains: "cart",
				LocatorContains:     "button",
			},
			ShowMore: CandidateMatcher{
				DescriptionContains:    "show more",
				LocatorExcludeSuffixes: []string{"/text()"},
			},
		},
	}
}

// LoadRecipe reads a .toml, .yaml or .yml recipe and overlays it on DefaultRecipe
func LoadRecipe(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipe %s: %w", path, err)
	}

	recipe := DefaultRecipe()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, recipe)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, recipe)
	default:
		return nil, fmt.Errorf("unsupported recipe format: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse recipe %s: %w", path, err)
	}

	if err := recipe.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recipe %s: %w", path, err)
	}

	return recipe, nil
}

// Validate checks that every instruction is set
func (r *Recipe) Validate() error {
	steps := map[string]string{
		"detect_login":    r.Instructions.DetectLogin,
		"detect_cart":     r.Instructions.DetectCart,
		"detect_overlay":  r.Instructions.DetectOverlay,
		"dismiss_overlay": r.Instructions.DismissOverlay,
		"open_navigation": r.Instructions.OpenNavigation,
		"open_orders":     r.Instructions.OpenOrders,
		"load_more":       r.Instructions.LoadMore,
		"extract_orders":  r.Instructions.ExtractOrders,
	}
	for name, value := range steps {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("instruction %s is empty", name)
		}
	}
	return nil
}
