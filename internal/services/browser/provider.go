package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
	"github.com/ternarybob/quarry/internal/services/llm"
)

// ErrPageTooLarge is returned by Extract when the page exceeds the configured size
var ErrPageTooLarge = errors.New("page content too large")

const (
	defaultMaxElements = 300
	defaultMaxHTMLSize = 400_000
)

const observeSystemPrompt = `You operate a web browser for a user. You are given an instruction and a numbered list of interactive elements on the current page.
Return the elements that carry out the instruction, best match first. Return an empty list when no element fits. Never invent indexes.`

const extractSystemPrompt = `You read web pages and return the requested data as JSON matching the schema exactly.
Only report what is visible on the page. Use an empty array when nothing matches.`

var observeSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"candidates": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"index":       map[string]interface{}{"type": "integer", "description": "Element number from the list"},
					"description": map[string]interface{}{"type": "string", "description": "Short description of the element"},
					"method":      map[string]interface{}{"type": "string", "enum": []string{"click", "fill", "press"}},
					"arguments":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				},
				"required": []string{"index", "description", "method"},
			},
		},
	},
	"required": []string{"candidates"},
}

type observation struct {
	Candidates []struct {
		Index       int      `json:"index"`
		Description string   `json:"description"`
		Method      string   `json:"method"`
		Arguments   []string `json:"arguments"`
	} `json:"candidates"`
}

// Provider resolves instructions against a Page with an LLM
type Provider struct {
	page        Page
	generator   llm.Generator
	model       string
	baseURL     string
	maxElements int
	maxHTMLSize int
	logger      arbor.ILogger
}

var (
	_ interfaces.SessionProvider = (*Provider)(nil)
	_ interfaces.LiveViewer      = (*Provider)(nil)
)

// NewProvider binds a page to a generator. maxHTMLSize <= 0 uses the default cap.
func NewProvider(page Page, generator llm.Generator, model, baseURL string, maxHTMLSize int, logger arbor.ILogger) *Provider {
	if maxHTMLSize <= 0 {
		maxHTMLSize = defaultMaxHTMLSize
	}
	return &Provider{
		page:        page,
		generator:   generator,
		model:       model,
		baseURL:     baseURL,
		maxElements: defaultMaxElements,
		maxHTMLSize: maxHTMLSize,
		logger:      logger,
	}
}

func (p *Provider) Observe(ctx context.Context, instruction string) ([]models.ActionCandidate, error) {
	html, err := p.page.HTML(ctx)
	if err != nil {
		return nil, err
	}

	elements, err := ScanElements(html, p.maxElements)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, nil
	}

	var listing strings.Builder
	for _, el := range elements {
		listing.WriteString(el.Describe())
		listing.WriteByte('\n')
	}

	resp, err := p.generator.GenerateContent(ctx, &llm.ContentRequest{
		Prompt:            fmt.Sprintf("Instruction: %s\n\nElements:\n%s", instruction, listing.String()),
		Model:             p.model,
		SystemInstruction: observeSystemPrompt,
		OutputSchema:      observeSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve instruction: %w", err)
	}

	var obs observation
	if err := json.Unmarshal([]byte(llm.ExtractJSON(resp.Text)), &obs); err != nil {
		return nil, fmt.Errorf("failed to parse observation: %w", err)
	}

	candidates := make([]models.ActionCandidate, 0, len(obs.Candidates))
	for _, c := range obs.Candidates {
		if c.Index < 0 || c.Index >= len(elements) {
			p.logger.Warn().Int("index", c.Index).Str("instruction", instruction).Msg("Model returned unknown element index")
			continue
		}
		description := c.Description
		if description == "" {
			description = elements[c.Index].Describe()
		}
		candidates = append(candidates, models.ActionCandidate{
			Description: description,
			Locator:     elements[c.Index].XPath,
			Method:      c.Method,
			Arguments:   c.Arguments,
		})
	}

	p.logger.Debug().
		Str("instruction", instruction).
		Int("elements", len(elements)).
		Int("candidates", len(candidates)).
		Msg("Observed page")

	return candidates, nil
}

func (p *Provider) Act(ctx context.Context, instruction string) (*models.ActionResult, error) {
	candidates, err := p.Observe(ctx, instruction)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &models.ActionResult{Message: fmt.Sprintf("no element for %q", instruction)}, nil
	}
	return p.ActWith(ctx, candidates[0])
}

func (p *Provider) ActWith(ctx context.Context, candidate models.ActionCandidate) (*models.ActionResult, error) {
	found, err := p.page.Perform(ctx, candidate)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	switch {
	case !found && err == nil:
		return &models.ActionResult{Message: fmt.Sprintf("element not found: %s", candidate.Locator)}, nil
	case !found:
		// Lookup itself failed, the page is in an unknown state
		return nil, err
	case err != nil:
		return &models.ActionResult{Attempted: true, Message: err.Error()}, nil
	default:
		return &models.ActionResult{Success: true, Attempted: true, Message: candidate.Description}, nil
	}
}

func (p *Provider) Extract(ctx context.Context, instruction string, schema models.Schema) (json.RawMessage, error) {
	html, err := p.page.HTML(ctx)
	if err != nil {
		return nil, err
	}

	content, err := md.NewConverter(p.baseURL, true, nil).ConvertString(html)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Markdown conversion failed, sending raw html")
		content = html
	}
	// A cut page would persist a partial order set as if it were complete
	if len(content) > p.maxHTMLSize {
		p.logger.Warn().Int("size", len(content)).Int("limit", p.maxHTMLSize).Msg("Page content exceeds limit")
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPageTooLarge, len(content), p.maxHTMLSize)
	}

	resp, err := p.generator.GenerateContent(ctx, &llm.ContentRequest{
		Prompt:            fmt.Sprintf("%s\n\nPage content:\n%s", instruction, content),
		Model:             p.model,
		SystemInstruction: extractSystemPrompt,
		OutputSchema:      schema,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract: %w", err)
	}

	raw := llm.ExtractJSON(resp.Text)
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("extraction returned invalid json")
	}
	return json.RawMessage(raw), nil
}

func (p *Provider) SessionID() string {
	return p.page.TargetID()
}

func (p *Provider) LiveViewURL(ctx context.Context) (string, error) {
	return p.page.LiveViewURL(ctx)
}

func (p *Provider) Close() error {
	return p.page.Close()
}
