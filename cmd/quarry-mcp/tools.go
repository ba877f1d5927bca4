package main

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// createStartExtractionTool returns the start_extraction tool definition
func createStartExtractionTool() mcp.Tool {
	return mcp.NewTool("start_extraction",
		mcp.WithDescription("Start extracting the order history for a user. Runs in the background; poll get_extraction_status."),
		mcp.WithString("user_email",
			mcp.Required(),
			mcp.Description("Email address identifying the user's job"),
		),
	)
}

// createGetExtractionStatusTool returns the get_extraction_status tool definition
func createGetExtractionStatusTool() mcp.Tool {
	return mcp.NewTool("get_extraction_status",
		mcp.WithDescription("Get the current status of a user's extraction, including the live view link while login is pending"),
		mcp.WithString("user_email",
			mcp.Required(),
			mcp.Description("Email address identifying the user's job"),
		),
	)
}

// createGetExtractedOrdersTool returns the get_extracted_orders tool definition
func createGetExtractedOrdersTool() mcp.Tool {
	return mcp.NewTool("get_extracted_orders",
		mcp.WithDescription("Get the orders from the user's most recent completed extraction"),
		mcp.WithString("user_email",
			mcp.Required(),
			mcp.Description("Email address identifying the user's job"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum orders to list (default: 50, max: 500)"),
		),
	)
}
