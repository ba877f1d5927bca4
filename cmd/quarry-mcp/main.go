package main

import (
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/httpclient"
)

func main() {
	apiURL := os.Getenv("QUARRY_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8085"
	}

	// Minimal logging to avoid cluttering MCP stdio
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	client := httpclient.NewClient(apiURL, nil)

	mcpServer := server.NewMCPServer(
		"quarry",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createStartExtractionTool(), handleStartExtraction(client, logger))
	mcpServer.AddTool(createGetExtractionStatusTool(), handleGetExtractionStatus(client, logger))
	mcpServer.AddTool(createGetExtractedOrdersTool(), handleGetExtractedOrders(client, logger))

	// Blocks on stdio
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}
