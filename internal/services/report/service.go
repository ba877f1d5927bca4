package report

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

// Report is the rendered spending summary for one run
type Report struct {
	Summary  *Summary
	Markdown string
	HTML     string
	PDF      []byte
}

// Service builds and emails a spending report after each completed extraction.
// Failures are logged only, the job status is already final.
type Service struct {
	config *common.ReportConfig
	sender Sender
	now    func() time.Time
	logger arbor.ILogger
}

// NewService creates the report service. sender may be nil to render without sending.
func NewService(config *common.ReportConfig, sender Sender, logger arbor.ILogger) *Service {
	return &Service{
		config: config,
		sender: sender,
		now:    time.Now,
		logger: logger,
	}
}

// Subscribe registers the service for completed extractions
func (s *Service) Subscribe(events interfaces.EventService) error {
	return events.Subscribe(interfaces.EventExtractionCompleted, s.handleCompleted)
}

// Build analyses orders and renders the report
func (s *Service) Build(orders *models.OrderSet) (*Report, error) {
	year := s.config.CurrentYear
	if year == 0 {
		year = s.now().Year()
	}

	var list []models.Order
	if orders != nil {
		list = orders.Orders
	}

	summary := Analyze(list, year)
	markdown := Markdown(summary)

	body, err := HTML(markdown)
	if err != nil {
		return nil, err
	}

	report := &Report{Summary: summary, Markdown: markdown, HTML: body}

	if s.config.AttachPDF {
		pdf, err := PDF(summary)
		if err != nil {
			return nil, err
		}
		report.PDF = pdf
	}

	return report, nil
}

func (s *Service) handleCompleted(ctx context.Context, event interfaces.Event) error {
	result, ok := event.Payload.(models.ExtractionResult)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	if !s.config.Enabled {
		return nil
	}

	if err := s.Send(ctx, result); err != nil {
		s.logger.Error().Err(err).Str("user_email", result.UserEmail).Str("run_id", result.RunID).Msg("Failed to send spending report")
		return err
	}
	return nil
}

// Send renders the report for result and mails it to the job's user
func (s *Service) Send(ctx context.Context, result models.ExtractionResult) error {
	if s.sender == nil {
		return fmt.Errorf("no mail sender configured")
	}

	report, err := s.Build(result.Orders)
	if err != nil {
		return err
	}
	if report.Summary.TotalOrders == 0 {
		s.logger.Info().Str("user_email", result.UserEmail).Msg("No orders to report")
		return nil
	}

	email := &Email{
		To:       result.UserEmail,
		Subject:  fmt.Sprintf("🍔 Your Uber Eats Analysis - %d Orders Analyzed", report.Summary.TotalOrders),
		TextBody: report.Markdown,
		HTMLBody: report.HTML,
	}
	if len(report.PDF) > 0 {
		email.Attachments = append(email.Attachments, Attachment{
			Filename:    "uber-eats-summary.pdf",
			ContentType: "application/pdf",
			Content:     report.PDF,
		})
	}

	return s.sender.Send(ctx, email)
}
