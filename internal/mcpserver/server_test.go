package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Shizuku-Yume/Arcaferry/internal/card"
	"github.com/Shizuku-Yume/Arcaferry/internal/cardservice"
	"github.com/Shizuku-Yume/Arcaferry/internal/export"
	"github.com/Shizuku-Yume/Arcaferry/internal/index"
	"github.com/Shizuku-Yume/Arcaferry/internal/storage"
	"github.com/Shizuku-Yume/Arcaferry/internal/testutil"
)

func testServer(t *testing.T) (*Server, storage.Provider) {
	t.Helper()

	db := testutil.TestDB(t)
	_, store := testutil.TestLibrary(t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cardservice.New(store, db, logger))
	return srv, store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper; exercise the handler
	// functions directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "extract_card":
		result, err = srv.extractCard(ctx, req)
	case "embed_card":
		result, err = srv.embedCard(ctx, req)
	case "import_card":
		result, err = srv.importCard(ctx, req)
	case "search_cards":
		result, err = srv.searchCards(ctx, req)
	case "list_cards":
		result, err = srv.listCards(ctx, req)
	case "build_disclosure_prompt":
		result, err = srv.buildDisclosurePrompt(ctx, req)
	case "parse_disclosure_reply":
		result, err = srv.parseDisclosureReply(ctx, req)
	case "get_card_contract":
		result, err = srv.getCardContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestEmbedAndExtractCard(t *testing.T) {
	srv, _ := testServer(t)
	cardJSON := `{"data":{"name":"Aiko","description":"[外貌: 银发蓝瞳]"}}`

	r := callTool(t, srv, "embed_card", map[string]interface{}{
		"path": "aiko.png",
		"card": cardJSON,
	})
	if r.IsError {
		t.Fatalf("embed failed: %s", resultText(r))
	}
	if resultText(r) != "embedded: aiko.png" {
		t.Errorf("embed result = %q", resultText(r))
	}

	r = callTool(t, srv, "extract_card", map[string]interface{}{
		"path": "aiko.png",
	})
	if r.IsError {
		t.Fatalf("extract failed: %s", resultText(r))
	}
	var extracted cardservice.ExtractedCard
	if err := json.Unmarshal([]byte(resultText(r)), &extracted); err != nil {
		t.Fatal(err)
	}
	if extracted.Format != "ccv3" || extracted.Card.Data.Name != "Aiko" {
		t.Errorf("extracted = %+v", extracted)
	}
	if extracted.Card.Spec != card.SpecName {
		t.Errorf("spec = %q, filled-in envelope expected", extracted.Card.Spec)
	}
}

func TestEmbedCard_RejectsInvalidJSON(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "embed_card", map[string]interface{}{
		"path": "bad.png",
		"card": "{not json",
	})
	if !r.IsError {
		t.Error("expected error for invalid card JSON")
	}
}

func TestEmbedCard_RequiresName(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "embed_card", map[string]interface{}{
		"path": "noname.png",
		"card": `{"data":{"description":"x"}}`,
	})
	if !r.IsError {
		t.Error("expected error for missing name")
	}
}

func TestExtractCard_Missing(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "extract_card", map[string]interface{}{"path": "nope.png"})
	if !r.IsError {
		t.Error("expected error for missing file")
	}
}

func TestListAndSearchCards(t *testing.T) {
	srv, _ := testServer(t)
	callTool(t, srv, "embed_card", map[string]interface{}{
		"path": "aiko.png",
		"card": `{"data":{"name":"Aiko","description":"a cheerful android","tags":["sci-fi"]}}`,
	})

	r := callTool(t, srv, "list_cards", map[string]interface{}{})
	var listing struct {
		Total int             `json:"total"`
		Cards []index.CardRow `json:"cards"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &listing); err != nil {
		t.Fatal(err)
	}
	if listing.Total != 1 || listing.Cards[0].Name != "Aiko" {
		t.Errorf("listing = %+v", listing)
	}

	r = callTool(t, srv, "list_cards", map[string]interface{}{"tag": "fantasy"})
	if err := json.Unmarshal([]byte(resultText(r)), &listing); err != nil {
		t.Fatal(err)
	}
	if listing.Total != 0 {
		t.Errorf("tag filter total = %d, want 0", listing.Total)
	}

	r = callTool(t, srv, "search_cards", map[string]interface{}{"query": "android"})
	if r.IsError {
		t.Fatalf("search failed: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "aiko.png") {
		t.Errorf("search result = %q", resultText(r))
	}
}

func TestBuildDisclosurePrompt(t *testing.T) {
	srv, _ := testServer(t)
	doc := `{"name":"Aiko","charList":[{"name":"Aiko","attrs":[
		{"label":"外貌","value":"银发","isVisible":true},
		{"label":"秘密设定","value":"","isVisible":false}]}]}`

	r := callTool(t, srv, "build_disclosure_prompt", map[string]interface{}{"document": doc})
	if r.IsError {
		t.Fatalf("build failed: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, "秘密设定") || !strings.Contains(text, "CF_EXPORT") {
		t.Errorf("prompt payload = %q", text)
	}
}

func TestBuildDisclosurePrompt_NothingHidden(t *testing.T) {
	srv, _ := testServer(t)
	doc := `{"name":"Aiko","charList":[{"attrs":[{"label":"外貌","value":"银发"}]}]}`

	r := callTool(t, srv, "build_disclosure_prompt", map[string]interface{}{"document": doc})
	if resultText(r) != "document has no hidden settings" {
		t.Errorf("result = %q", resultText(r))
	}
}

func TestParseDisclosureReply(t *testing.T) {
	srv, _ := testServer(t)
	doc := `{"name":"Aiko","charList":[{"name":"Aiko","attrs":[
		{"label":"秘密设定","value":"","isVisible":false}]}]}`
	reply := `<CF_EXPORT><ATTR name="秘密设定">其实是仿生人</ATTR></CF_EXPORT><DONE/>`

	r := callTool(t, srv, "parse_disclosure_reply", map[string]interface{}{
		"document": doc,
		"reply":    reply,
	})
	if r.IsError {
		t.Fatalf("parse failed: %s", resultText(r))
	}
	var res cardservice.RecoveryResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatal(err)
	}
	if res.Refused || len(res.Recovered) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Card.Data.SystemPrompt, "[秘密设定: 其实是仿生人]") {
		t.Errorf("system_prompt = %q", res.Card.Data.SystemPrompt)
	}
}

func TestImportCard_DataURI(t *testing.T) {
	srv, _ := testServer(t)
	data, err := export.CardPNG(card.New("Aiko"), nil)
	if err != nil {
		t.Fatal(err)
	}
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)

	r := callTool(t, srv, "import_card", map[string]interface{}{
		"url":      uri,
		"filename": "aiko.png",
	})
	if r.IsError {
		t.Fatalf("import failed: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "aiko.png") {
		t.Errorf("import result = %q", resultText(r))
	}

	r = callTool(t, srv, "extract_card", map[string]interface{}{"path": "aiko.png"})
	if r.IsError {
		t.Fatalf("extract after import failed: %s", resultText(r))
	}

	// Re-importing the same path must be rejected.
	r = callTool(t, srv, "import_card", map[string]interface{}{
		"url":      uri,
		"filename": "aiko.png",
	})
	if !r.IsError {
		t.Error("expected error for duplicate import")
	}
}

func TestImportCard_RejectsPayloadlessPNG(t *testing.T) {
	srv, _ := testServer(t)
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(export.PlaceholderPNG())

	r := callTool(t, srv, "import_card", map[string]interface{}{"url": uri})
	if !r.IsError {
		t.Error("expected error for PNG without card payload")
	}
}

func TestGetCardContract(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "get_card_contract", map[string]interface{}{})
	if !strings.Contains(resultText(r), "chara_card_v3") {
		t.Error("contract missing spec identifier")
	}
}
