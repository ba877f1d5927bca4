package report

import "fmt"

// Comparison expresses an amount as a quantity of something relatable
type Comparison struct {
	Quantity    string
	Description string
}

type comparisonItem struct {
	price       float64
	description string
}

type comparisonCategory struct {
	bonus float64
	items []comparisonItem
}

// Experiences are preferred over tech, tech over groceries
var comparisonCategories = []comparisonCategory{
	{bonus: 1, items: []comparisonItem{
		{6, "Starbucks lattes ☕"},
		{200, "weeks of groceries 🛒"},
		{800, "months of groceries 🛒"},
	}},
	{bonus: 0, items: []comparisonItem{
		{15, "movie tickets 🎬"},
		{80, "nice dinners out 🍽️"},
		{600, "weekend getaways ✈️"},
		{2000, "week-long vacations 🏖️"},
	}},
	{bonus: 0.5, items: []comparisonItem{
		{180, "AirPods 🎧"},
		{400, "Apple Watches ⌚"},
		{1000, "iPhones 📱"},
		{1800, "MacBooks 💻"},
	}},
}

// BestComparison picks the item whose quantity lands closest to three,
// considering only quantities between one and ten
func BestComparison(amount float64) Comparison {
	var best *Comparison
	bestScore := 0.0

	for _, category := range comparisonCategories {
		for _, item := range category.items {
			quantity := amount / item.price
			if quantity < 1 || quantity > 10 {
				continue
			}
			score := abs(quantity-3) + category.bonus
			if best == nil || score < bestScore {
				bestScore = score
				best = &Comparison{Quantity: formatQuantity(quantity), Description: item.description}
			}
		}
	}

	if best != nil {
		return *best
	}
	if amount < 100 {
		return Comparison{Quantity: fmt.Sprintf("%.0f", amount/4), Description: "Starbucks lattes ☕"}
	}
	return Comparison{Quantity: fmt.Sprintf("%.1f", amount/80), Description: "nice dinners out 🍽️"}
}

func formatQuantity(quantity float64) string {
	if quantity < 10 {
		return fmt.Sprintf("%.1f", quantity)
	}
	return fmt.Sprintf("%.0f", quantity)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
