// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Arcaferry tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Shizuku-Yume/Arcaferry/internal/card"
	"github.com/Shizuku-Yume/Arcaferry/internal/cardservice"
	"github.com/Shizuku-Yume/Arcaferry/internal/source"
)

// Server wraps the MCP server with Arcaferry tools.
type Server struct {
	mcp *server.MCPServer
	svc *cardservice.Service
}

// New creates a new MCP server with all Arcaferry tools registered.
func New(svc *cardservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"Arcaferry",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("extract_card",
		mcp.WithDescription("Extract the embedded character card from a library PNG and return it as CCv3 JSON."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative library path of the PNG (e.g. cards/aiko.png)")),
	), s.extractCard)

	s.mcp.AddTool(mcp.NewTool("embed_card",
		mcp.WithDescription("Embed a CCv3 character card into a PNG avatar and save it to the library. "+
			"The card JSON MUST follow the canonical format; read the arcaferry://card-format resource "+
			"or the get_card_contract tool first."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative library path for the new PNG (must end with .png)")),
		mcp.WithString("card", mcp.Required(), mcp.Description("CCv3 card JSON (spec chara_card_v3)")),
		mcp.WithString("avatar_base64", mcp.Description("Optional base64-encoded PNG avatar; a placeholder is generated when omitted")),
	), s.embedCard)

	s.mcp.AddTool(mcp.NewTool("import_card",
		mcp.WithDescription("Download a card PNG from an http(s) URL or data URI and add it to the library. "+
			"The PNG must already carry an embedded card payload."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:image/png;base64 URI")),
		mcp.WithString("filename", mcp.Description("Optional target filename (sanitized; .png appended when missing)")),
	), s.importCard)

	s.mcp.AddTool(mcp.NewTool("search_cards",
		mcp.WithDescription("Full-text search through indexed card names and descriptions."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchCards)

	s.mcp.AddTool(mcp.NewTool("list_cards",
		mcp.WithDescription("List indexed library cards, optionally filtered by tag."),
		mcp.WithString("tag", mcp.Description("Optional tag to filter by")),
	), s.listCards)

	s.mcp.AddTool(mcp.NewTool("build_disclosure_prompt",
		mcp.WithDescription("Flatten a platform source document and build the configuration-export prompt "+
			"for its hidden attributes. Returns the prompt plus the hidden attribute candidates."),
		mcp.WithString("document", mcp.Required(), mcp.Description("Platform character document JSON")),
	), s.buildDisclosurePrompt)

	s.mcp.AddTool(mcp.NewTool("parse_disclosure_reply",
		mcp.WithDescription("Parse a free-form disclosure reply against a source document and build the "+
			"final CCv3 card with recovered hidden settings applied."),
		mcp.WithString("document", mcp.Required(), mcp.Description("Platform character document JSON")),
		mcp.WithString("reply", mcp.Required(), mcp.Description("Raw reply text from the disclosure prompt")),
		mcp.WithString("persona_name", mcp.Description("Persona name to replace with {{user}} in recovered values")),
	), s.parseDisclosureReply)

	s.mcp.AddTool(mcp.NewTool("get_card_contract",
		mcp.WithDescription("Returns the canonical CCv3 card format contract. "+
			"Call this before embedding cards to ensure correct structure."),
	), s.getCardContract)

	// Resource: card format contract.
	s.mcp.AddResource(
		mcp.NewResource("arcaferry://card-format", "Card Format Contract",
			mcp.WithResourceDescription("Canonical CCv3 character card format that all embedded cards must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readCardFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// Listen starts the MCP server on stdin/stdout and stops when ctx is
// cancelled.
func (s *Server) Listen(ctx context.Context) error {
	return server.NewStdioServer(s.mcp).Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) extractCard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	extracted, err := s.svc.ExtractCardFromLibrary(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("extract %s: %v", path, err)), nil
	}
	out, _ := json.MarshalIndent(extracted, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) embedCard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cardJSON, err := req.RequireString("card")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var c card.Card
	if err := json.Unmarshal([]byte(cardJSON), &c); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid card JSON: %v", err)), nil
	}
	if c.Data.Name == "" {
		return mcp.NewToolResultError("card data.name must not be empty"), nil
	}
	if c.Spec == "" {
		c.Spec = card.SpecName
		c.SpecVersion = card.SpecVersion
	}

	var avatar []byte
	if b64 := req.GetString("avatar_base64", ""); b64 != "" {
		avatar, err = base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid avatar_base64: %v", err)), nil
		}
	}

	if _, err := s.svc.ExportCard(c, avatar, path); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("embedded: %s", path)), nil
}

func (s *Server) searchCards(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(results, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listCards(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tag := req.GetString("tag", "")
	rows, total, err := s.svc.ListCards(100, 0, tag)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(map[string]any{
		"total": total,
		"cards": rows,
	}, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) buildDisclosurePrompt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docJSON, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var doc source.Document
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid document JSON: %v", err)), nil
	}

	d := s.svc.PrepareDisclosure(&doc)
	if d == nil {
		return mcp.NewToolResultText("document has no hidden settings"), nil
	}
	out, _ := json.MarshalIndent(d, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) parseDisclosureReply(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docJSON, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	reply, err := req.RequireString("reply")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	persona := req.GetString("persona_name", "")

	var doc source.Document
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid document JSON: %v", err)), nil
	}

	res := s.svc.FinalizeCard(&doc, reply, persona, nil)
	out, _ := json.MarshalIndent(res, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) getCardContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(CardFormatContract), nil
}

func (s *Server) readCardFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "arcaferry://card-format",
			MIMEType: "text/markdown",
			Text:     CardFormatContract,
		},
	}, nil
}
