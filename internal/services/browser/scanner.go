package browser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const interactiveSelector = "a[href], button, input, select, textarea, summary, " +
	"[role='button'], [role='link'], [role='menuitem'], [role='tab'], [onclick]"

// Element is one interactive node offered to the model by index
type Element struct {
	Index   int
	Tag     string
	Text    string
	Label   string
	Href    string
	XPath   string
	Type    string
	Role    string
	TestID  string
	Context string
}

// Describe renders the element as a single prompt line
func (e Element) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] <%s", e.Index, e.Tag)
	for _, attr := range []struct{ name, value string }{
		{"type", e.Type},
		{"role", e.Role},
		{"aria-label", e.Label},
		{"href", e.Href},
		{"data-testid", e.TestID},
	} {
		if attr.value != "" {
			fmt.Fprintf(&b, " %s=%q", attr.name, attr.value)
		}
	}
	b.WriteString(">")
	b.WriteString(e.Text)
	if e.Context != "" {
		fmt.Fprintf(&b, " (in: %s)", e.Context)
	}
	return b.String()
}

// ScanElements lists visible interactive elements in document order, capped at limit
func ScanElements(html string, limit int) ([]Element, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page html: %w", err)
	}

	var elements []Element
	doc.Find(interactiveSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if hidden(sel) {
			return true
		}

		el := Element{
			Index:  len(elements),
			Tag:    goquery.NodeName(sel),
			Text:   truncate(collapse(sel.Text()), 80),
			Label:  attr(sel, "aria-label"),
			Href:   truncate(attr(sel, "href"), 80),
			Type:   attr(sel, "type"),
			Role:   attr(sel, "role"),
			TestID: attr(sel, "data-testid"),
			XPath:  XPathFor(sel),
		}
		if el.Text == "" {
			el.Text = attr(sel, "placeholder")
		}
		if heading := sel.Closest("section, nav, header, [role='dialog']"); heading.Length() > 0 {
			if label := attr(heading, "aria-label"); label != "" {
				el.Context = label
			}
		}

		elements = append(elements, el)
		return limit <= 0 || len(elements) < limit
	})

	return elements, nil
}

// XPathFor builds an absolute positional XPath for the first node in sel
func XPathFor(sel *goquery.Selection) string {
	var steps []string
	for cur := sel.First(); cur.Length() > 0; cur = cur.Parent() {
		name := goquery.NodeName(cur)
		if name == "" || strings.HasPrefix(name, "#") {
			break
		}
		position := cur.PrevAllFiltered(name).Length() + 1
		steps = append(steps, fmt.Sprintf("%s[%d]", name, position))
	}

	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return "/" + strings.Join(steps, "/")
}

func hidden(sel *goquery.Selection) bool {
	if _, ok := sel.Attr("hidden"); ok {
		return true
	}
	if strings.EqualFold(attr(sel, "type"), "hidden") || attr(sel, "aria-hidden") == "true" {
		return true
	}
	style := strings.ReplaceAll(strings.ToLower(attr(sel, "style")), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func attr(sel *goquery.Selection, name string) string {
	value, _ := sel.Attr(name)
	return collapse(value)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
