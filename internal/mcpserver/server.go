// Package mcpserver exposes the transcription gateway as MCP tools over
// stdio.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"inkscribe-server/internal/domain"
	"inkscribe-server/internal/gateway"
)

type Server struct {
	mcp         *server.MCPServer
	transcriber gateway.Transcriber
}

func New(transcriber gateway.Transcriber, version string) *Server {
	s := &Server{transcriber: transcriber}

	s.mcp = server.NewMCPServer(
		"Inkscribe",
		version,
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("transcribe_image",
		mcp.WithDescription("Transcribe a photo of handwritten notes into a title and Markdown content. "+
			"Math is written in LaTeX, diagrams in Mermaid."),
		mcp.WithString("image_url", mcp.Required(), mcp.Description("Public http(s) URL of the image")),
		mcp.WithString("note_id", mcp.Description("Identifier passed to the model; a random one is used when empty")),
	), s.transcribeImage)

	s.mcp.AddTool(mcp.NewTool("export_file_name",
		mcp.WithDescription("Return the Markdown file name a note with the given title is exported as."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Note title")),
	), s.exportFileName)

	return s
}

func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

type transcribeResult struct {
	NoteID          string `json:"noteId"`
	Title           string `json:"title"`
	MarkdownContent string `json:"markdownContent"`
	FileName        string `json:"fileName"`
}

func (s *Server) transcribeImage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	imageURL, err := req.RequireString("image_url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	noteID := req.GetString("note_id", "")
	if noteID == "" {
		noteID = uuid.New().String()
	}

	t, err := s.transcriber.Transcribe(ctx, imageURL, noteID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	out, _ := json.MarshalIndent(transcribeResult{
		NoteID:          noteID,
		Title:           t.Title,
		MarkdownContent: t.MarkdownContent,
		FileName:        domain.ExportFileName(t.Title),
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) exportFileName(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(domain.ExportFileName(title)), nil
}
