package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/httpclient"
)

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	result := textResult(text)
	result.IsError = true
	return result
}

// handleStartExtraction implements the start_extraction tool
func handleStartExtraction(client *httpclient.Client, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userEmail, err := request.RequireString("user_email")
		if err != nil || userEmail == "" {
			return errorResult("Error: user_email parameter is required"), nil
		}

		accepted, err := client.StartExtraction(ctx, userEmail)
		if err != nil {
			var apiErr *httpclient.APIError
			if errors.As(err, &apiErr) && apiErr.Job != nil {
				return textResult("Extraction already in progress.\n\n" + formatJob(apiErr.Job)), nil
			}
			logger.Error().Err(err).Str("user_email", userEmail).Msg("start_extraction failed")
			return errorResult(fmt.Sprintf("Failed to start extraction: %v", err)), nil
		}

		return textResult(fmt.Sprintf("%s\n\nPoll get_extraction_status for %s to follow progress.", accepted.Message, accepted.UserEmail)), nil
	}
}

// handleGetExtractionStatus implements the get_extraction_status tool
func handleGetExtractionStatus(client *httpclient.Client, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userEmail, err := request.RequireString("user_email")
		if err != nil || userEmail == "" {
			return errorResult("Error: user_email parameter is required"), nil
		}

		job, err := client.Status(ctx, userEmail)
		if errors.Is(err, httpclient.ErrNotFound) {
			return textResult(fmt.Sprintf("No extraction found for %s.", userEmail)), nil
		}
		if err != nil {
			logger.Error().Err(err).Str("user_email", userEmail).Msg("get_extraction_status failed")
			return errorResult(fmt.Sprintf("Failed to read status: %v", err)), nil
		}

		return textResult(formatJob(job)), nil
	}
}

// handleGetExtractedOrders implements the get_extracted_orders tool
func handleGetExtractedOrders(client *httpclient.Client, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userEmail, err := request.RequireString("user_email")
		if err != nil || userEmail == "" {
			return errorResult("Error: user_email parameter is required"), nil
		}

		limit := request.GetInt("limit", 50)
		if limit <= 0 {
			limit = 50
		}
		if limit > 500 {
			limit = 500
		}

		stored, err := client.Orders(ctx, userEmail)
		if errors.Is(err, httpclient.ErrNotFound) {
			return textResult(fmt.Sprintf("No orders stored for %s.", userEmail)), nil
		}
		if err != nil {
			logger.Error().Err(err).Str("user_email", userEmail).Msg("get_extracted_orders failed")
			return errorResult(fmt.Sprintf("Failed to read orders: %v", err)), nil
		}

		return textResult(formatOrders(userEmail, stored, limit)), nil
	}
}
