package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/quarry/internal/models"
)

var monthNumbers = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

var timestampLayouts = []string{
	"Jan 2 2006 3:04 PM",
	"Jan 2 2006 3:04PM",
	"Jan 2 2006 15:04",
	"2006-01-02 3:04 PM",
	"2006-01-02 3:04PM",
	"2006-01-02 15:04",
	"Jan 2 2006",
	"2006-01-02",
}

// AddYears returns a copy of orders with a year appended to "Mon DD" dates.
// Orders must be most recent first. The first order belongs to currentYear when
// it falls in January to June, otherwise to the year before; every step to a
// later month while scanning down the list moves back one year.
// Dates already carrying a year are left alone.
func AddYears(orders []models.Order, currentYear int) []models.Order {
	out := make([]models.Order, len(orders))
	copy(out, orders)

	year := 0
	var previous time.Month

	for i := range out {
		month, day, ok := monthDay(out[i].Date)
		if !ok {
			continue
		}

		if year == 0 {
			year = currentYear
			if month > time.June {
				year--
			}
		} else if month > previous {
			year--
		}

		out[i].Date = fmt.Sprintf("%s %s %d", month.String()[:3], day, year)
		previous = month
	}

	return out
}

// monthDay splits a "Mon DD" date
func monthDay(date string) (time.Month, string, bool) {
	fields := strings.Fields(date)
	if len(fields) != 2 {
		return 0, "", false
	}
	month, ok := monthNumbers[strings.ToLower(fields[0])[:min(3, len(fields[0]))]]
	if !ok {
		return 0, "", false
	}
	return month, strings.TrimSuffix(fields[1], ","), true
}

// ParseTimestamp combines an order's date and time. ok is false when the date is unrecognised.
func ParseTimestamp(order models.Order) (time.Time, bool) {
	value := normalize(order.Date + " " + order.Time)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	// Fall back to the date alone when the time is malformed
	date := normalize(order.Date)
	for _, layout := range timestampLayouts[len(timestampLayouts)-2:] {
		if ts, err := time.Parse(layout, date); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// normalize collapses whitespace, drops commas and upper-cases AM/PM markers
func normalize(value string) string {
	return strings.ToUpper(strings.Join(strings.Fields(strings.ReplaceAll(value, ",", "")), " "))
}

// DatedOrder is an order with its resolved timestamp
type DatedOrder struct {
	models.Order
	Timestamp time.Time
	Dated     bool
}

// MonthlySpend is the total for one calendar month, keyed "2006-01"
type MonthlySpend struct {
	Month  string
	Amount float64
}

// Summary holds the spending statistics for one user's orders
type Summary struct {
	TotalOrders        int
	TotalSpent         float64
	AverageOrder       float64
	CanceledOrders     int
	PeakHour           string
	TopDay             string
	TopRestaurant      string
	TopRestaurantCount int
	LargestOrder       models.Order
	Monthly            []MonthlySpend
	Comparison         Comparison
	// Orders in chronological order, undated orders last
	Orders []DatedOrder
}

// Analyze computes the summary. Orders are expected most recent first, as listed on the page.
func Analyze(orders []models.Order, currentYear int) *Summary {
	summary := &Summary{TotalOrders: len(orders)}
	if len(orders) == 0 {
		summary.Comparison = BestComparison(0)
		return summary
	}

	for _, order := range AddYears(orders, currentYear) {
		ts, ok := ParseTimestamp(order)
		summary.Orders = append(summary.Orders, DatedOrder{Order: order, Timestamp: ts, Dated: ok})
	}
	sort.SliceStable(summary.Orders, func(i, j int) bool {
		a, b := summary.Orders[i], summary.Orders[j]
		if a.Dated != b.Dated {
			return a.Dated
		}
		return a.Timestamp.Before(b.Timestamp)
	})

	hours := newCounter[int]()
	days := newCounter[time.Weekday]()
	restaurants := newCounter[string]()
	monthly := make(map[string]float64)
	var months []string

	for i, order := range summary.Orders {
		summary.TotalSpent += order.Total
		if order.Canceled {
			summary.CanceledOrders++
		}
		if i == 0 || order.Total > summary.LargestOrder.Total {
			summary.LargestOrder = order.Order
		}
		restaurants.add(order.RestaurantName)

		if !order.Dated {
			continue
		}
		if order.Time != "" {
			hours.add(order.Timestamp.Hour())
		}
		days.add(order.Timestamp.Weekday())

		month := order.Timestamp.Format("2006-01")
		if _, seen := monthly[month]; !seen {
			months = append(months, month)
		}
		monthly[month] += order.Total
	}

	summary.AverageOrder = summary.TotalSpent / float64(len(orders))
	summary.TopRestaurant, summary.TopRestaurantCount = restaurants.top()
	if hour, n := hours.top(); n > 0 {
		summary.PeakHour = HourLabel(hour)
	}
	if day, n := days.top(); n > 0 {
		summary.TopDay = day.String()
	}
	for _, month := range months {
		summary.Monthly = append(summary.Monthly, MonthlySpend{Month: month, Amount: monthly[month]})
	}
	summary.Comparison = BestComparison(summary.TotalSpent)

	return summary
}

// HourLabel formats 22 as "10PM" and 9 as "9AM"
func HourLabel(hour int) string {
	return time.Date(2000, 1, 1, hour, 0, 0, 0, time.UTC).Format("3PM")
}

// counter tallies values and reports the most frequent, earliest seen on ties
type counter[K comparable] struct {
	counts map[K]int
	order  []K
}

func newCounter[K comparable]() *counter[K] {
	return &counter[K]{counts: make(map[K]int)}
}

func (c *counter[K]) add(key K) {
	if _, seen := c.counts[key]; !seen {
		c.order = append(c.order, key)
	}
	c.counts[key]++
}

func (c *counter[K]) top() (K, int) {
	var best K
	bestCount := 0
	for _, key := range c.order {
		if c.counts[key] > bestCount {
			best, bestCount = key, c.counts[key]
		}
	}
	return best, bestCount
}
