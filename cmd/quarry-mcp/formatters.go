package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/quarry/internal/models"
)

// formatJob formats a job record as markdown
func formatJob(job *models.ExtractionJob) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Extraction for %s\n\n", job.UserEmail))
	sb.WriteString(fmt.Sprintf("**Status:** %s\n", job.Status))
	if job.Message != "" {
		sb.WriteString(fmt.Sprintf("**Message:** %s\n", job.Message))
	}
	if job.LiveViewURL != "" {
		sb.WriteString(fmt.Sprintf("**Live view:** %s\n", job.LiveViewURL))
	}
	if job.SessionID != "" {
		sb.WriteString(fmt.Sprintf("**Session:** %s\n", job.SessionID))
	}
	if job.OrderCount > 0 {
		sb.WriteString(fmt.Sprintf("**Orders:** %d\n", job.OrderCount))
	}
	if !job.Timestamp.IsZero() {
		sb.WriteString(fmt.Sprintf("**Updated:** %s\n", job.Timestamp.Format(time.RFC3339)))
	}

	if job.Status == models.JobStatusAwaitingLogin {
		sb.WriteString("\nThe user must log in through the live view before extraction continues.\n")
	}
	return sb.String()
}

// formatOrders formats a stored order set as a markdown table
func formatOrders(userEmail string, stored *models.StoredOrderSet, limit int) string {
	orders := stored.Orders.Orders

	var total float64
	canceled := 0
	for _, o := range orders {
		if o.Canceled {
			canceled++
			continue
		}
		total += o.Total
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Orders for %s (%d orders)\n\n", userEmail, len(orders)))
	sb.WriteString(fmt.Sprintf("**Total spent:** $%.2f", total))
	if canceled > 0 {
		sb.WriteString(fmt.Sprintf(" (%d canceled excluded)", canceled))
	}
	sb.WriteString("\n\n")

	if len(orders) == 0 {
		sb.WriteString("No orders found.\n")
		return sb.String()
	}

	sb.WriteString("| Date | Time | Restaurant | Total |\n")
	sb.WriteString("|------|------|------------|-------|\n")
	for i, o := range orders {
		if i >= limit {
			sb.WriteString(fmt.Sprintf("\n_%d more not shown._\n", len(orders)-limit))
			break
		}
		name := strings.ReplaceAll(o.RestaurantName, "|", "/")
		if o.Canceled {
			name += " (canceled)"
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | $%.2f |\n", o.Date, o.Time, name, o.Total))
	}
	return sb.String()
}
