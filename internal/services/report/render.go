package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; color: #2c3e50; max-width: 800px; margin: 0 auto; padding: 20px; }
table { width: 100%%; border-collapse: collapse; margin: 16px 0; }
th { background: #667eea; color: white; padding: 10px; text-align: left; }
td { padding: 8px 10px; border-bottom: 1px solid #ecf0f1; }
</style>
</head>
<body>
%s
</body>
</html>`

// Markdown renders the summary as a GitHub-flavoured markdown document
func Markdown(s *Summary) string {
	var b strings.Builder

	b.WriteString("# 🍔 Your Uber Eats Summary\n\n")
	if s.TotalOrders == 0 {
		b.WriteString("No orders found to analyze.\n")
		return b.String()
	}

	b.WriteString("| Metric | Value |\n|---|---|\n")
	rows := [][2]string{
		{"Total Spent", money(s.TotalSpent)},
		{"Average Order Cost", money(s.AverageOrder)},
		{"Total Orders", fmt.Sprintf("%d", s.TotalOrders)},
		{"Cancelled Orders", fmt.Sprintf("%d", s.CanceledOrders)},
		{"Peak Ordering Hour", orDash(s.PeakHour)},
		{"Top Day to Order", orDash(s.TopDay)},
		{"Top Restaurant", fmt.Sprintf("%s (ordered %d times)", cell(s.TopRestaurant), s.TopRestaurantCount)},
		{"Largest Order", fmt.Sprintf("%s at %s (%s)", money(s.LargestOrder.Total), cell(s.LargestOrder.RestaurantName), cell(s.LargestOrder.Date))},
		{"Could Have Bought", fmt.Sprintf("%s %s", s.Comparison.Quantity, s.Comparison.Description)},
	}
	for _, row := range rows {
		fmt.Fprintf(&b, "| %s | %s |\n", row[0], row[1])
	}

	if len(s.Monthly) > 0 {
		b.WriteString("\n## 📊 Monthly Spending\n\n| Month | Amount |\n|---|---|\n")
		for _, m := range s.Monthly {
			fmt.Fprintf(&b, "| %s | %s |\n", m.Month, money(m.Amount))
		}
	}

	b.WriteString("\n## 📋 Order Details\n\n| Restaurant | Date | Time | Total |\n|---|---|---|---|\n")
	for _, o := range s.Orders {
		total := money(o.Total)
		if o.Canceled {
			total += " (canceled)"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", cell(o.RestaurantName), cell(o.Date), cell(o.Time), total)
	}

	return b.String()
}

// HTML converts the markdown report into a standalone email body
func HTML(markdown string) (string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.Table),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)

	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render report html: %w", err)
	}
	return fmt.Sprintf(htmlTemplate, buf.String()), nil
}

// PDF lays the summary out as an A4 document and checks the output with pdfcpu
func PDF(s *Summary) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(12, 12, 12)
	pdf.SetAutoPageBreak(true, 12)
	pdf.SetTitle("Uber Eats Summary", true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, "Your Uber Eats Summary", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if s.TotalOrders == 0 {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 8, "No orders found to analyze.", "", 1, "L", false, 0, "")
		return finishPDF(pdf)
	}

	pdf.SetFont("Arial", "", 10)
	kpis := [][2]string{
		{"Total Spent", money(s.TotalSpent)},
		{"Average Order Cost", money(s.AverageOrder)},
		{"Total Orders", fmt.Sprintf("%d", s.TotalOrders)},
		{"Cancelled Orders", fmt.Sprintf("%d", s.CanceledOrders)},
		{"Peak Ordering Hour", orDash(s.PeakHour)},
		{"Top Day to Order", orDash(s.TopDay)},
		{"Top Restaurant", fmt.Sprintf("%s (%d times)", s.TopRestaurant, s.TopRestaurantCount)},
		{"Largest Order", fmt.Sprintf("%s at %s", money(s.LargestOrder.Total), s.LargestOrder.RestaurantName)},
		{"Could Have Bought", fmt.Sprintf("%s %s", s.Comparison.Quantity, s.Comparison.Description)},
	}
	for _, kpi := range kpis {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(55, 7, latin1(kpi[0]), "B", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 7, latin1(kpi[1]), "B", 1, "L", false, 0, "")
	}

	if len(s.Monthly) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(0, 8, "Monthly Spending", "", 1, "L", false, 0, "")
		tableHeader(pdf, []string{"Month", "Amount"}, []float64{60, 40})
		for _, m := range s.Monthly {
			pdf.CellFormat(60, 6, m.Month, "1", 0, "L", false, 0, "")
			pdf.CellFormat(40, 6, money(m.Amount), "1", 1, "R", false, 0, "")
		}
	}

	pdf.Ln(6)
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "Order Details", "", 1, "L", false, 0, "")
	widths := []float64{80, 35, 30, 30}
	tableHeader(pdf, []string{"Restaurant", "Date", "Time", "Total"}, widths)
	for _, o := range s.Orders {
		pdf.CellFormat(widths[0], 6, latin1(clip(o.RestaurantName, 45)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, latin1(o.Date), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 6, latin1(o.Time), "1", 0, "L", false, 0, "")
		total := money(o.Total)
		if o.Canceled {
			total += " x"
		}
		pdf.CellFormat(widths[3], 6, total, "1", 1, "R", false, 0, "")
	}

	return finishPDF(pdf)
}

func tableHeader(pdf *fpdf.Fpdf, titles []string, widths []float64) {
	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(102, 126, 234)
	pdf.SetTextColor(255, 255, 255)
	for i, title := range titles {
		pdf.CellFormat(widths[i], 7, title, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont("Arial", "", 9)
}

func finishPDF(pdf *fpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF output: %w", err)
	}

	data := buf.Bytes()
	if err := api.Validate(bytes.NewReader(data), model.NewDefaultConfiguration()); err != nil {
		return nil, fmt.Errorf("generated PDF failed validation: %w", err)
	}
	return data, nil
}

// PageCount reads the number of pages in a PDF
func PageCount(data []byte) (int, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return 0, fmt.Errorf("failed to read PDF context: %w", err)
	}
	return ctx.PageCount, nil
}

func money(v float64) string {
	whole := fmt.Sprintf("%.2f", v)
	intPart, frac := whole[:len(whole)-3], whole[len(whole)-3:]

	negative := strings.HasPrefix(intPart, "-")
	intPart = strings.TrimPrefix(intPart, "-")

	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(r)
	}

	sign := ""
	if negative {
		sign = "-"
	}
	return sign + "$" + grouped.String() + frac
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// cell escapes pipes so values cannot break a markdown table row
func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "."
}

// latin1 drops characters the core PDF fonts cannot encode and maps the rest to cp1252
func latin1(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 256 {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(translate(b.String()))
}

var translate = fpdf.New("P", "mm", "A4", "").UnicodeTranslatorFromDescriptor("")
