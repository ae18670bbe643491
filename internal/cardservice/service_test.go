package cardservice

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Shizuku-Yume/Arcaferry/internal/apperr"
	"github.com/Shizuku-Yume/Arcaferry/internal/card"
	"github.com/Shizuku-Yume/Arcaferry/internal/export"
	"github.com/Shizuku-Yume/Arcaferry/internal/png"
	"github.com/Shizuku-Yume/Arcaferry/internal/source"
	"github.com/Shizuku-Yume/Arcaferry/internal/testutil"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.TestDB(t)
	_, store := testutil.TestLibrary(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, db, logger)
}

func sampleDoc() *source.Document {
	return &source.Document{
		Name: "Aiko",
		CharList: []source.Character{{
			Name: "Aiko",
			Attrs: []source.Attribute{
				{Label: "外貌", Value: "银发蓝瞳", Visible: true},
				{Label: "秘密设定", Value: "", Visible: false},
			},
		}},
	}
}

func TestExtractCard_Roundtrip(t *testing.T) {
	s := newTestService(t)
	c := card.New("Aiko")
	c.Data.Description = "[外貌: 银发蓝瞳]"
	data, err := export.CardPNG(c, nil)
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.ExtractCard(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Format != "ccv3" {
		t.Errorf("format = %q, want ccv3", got.Format)
	}
	if got.Card.Data.Name != "Aiko" || got.Card.Data.Description != c.Data.Description {
		t.Errorf("card = %+v", got.Card.Data)
	}
}

func TestExtractCard_NoPayload(t *testing.T) {
	s := newTestService(t)
	if _, err := s.ExtractCard(export.PlaceholderPNG()); !errors.Is(err, apperr.ErrNoCardPayload) {
		t.Errorf("err = %v, want ErrNoCardPayload", err)
	}
}

func TestImportPNG_DuplicateRejected(t *testing.T) {
	s := newTestService(t)
	data, err := export.CardPNG(card.New("Aiko"), nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.ImportPNG("aiko.png", data); err != nil {
		t.Fatal(err)
	}
	if err := s.ImportPNG("aiko.png", data); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestImportPNG_RequiresPayload(t *testing.T) {
	s := newTestService(t)
	if err := s.ImportPNG("plain.png", export.PlaceholderPNG()); !errors.Is(err, apperr.ErrNoCardPayload) {
		t.Errorf("err = %v, want ErrNoCardPayload", err)
	}
}

func TestExportCard_WritesAndIndexes(t *testing.T) {
	s := newTestService(t)
	c := card.New("Aiko")
	c.Data.Creator = "tester"

	data, err := s.ExportCard(c, nil, "cards/aiko.png")
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("empty export")
	}

	row, err := s.db.GetCard("cards/aiko.png")
	if err != nil {
		t.Fatal(err)
	}
	if row.Name != "Aiko" || row.Creator != "tester" {
		t.Errorf("indexed row = %+v", row)
	}

	got, err := s.ExtractCardFromLibrary("cards/aiko.png")
	if err != nil {
		t.Fatal(err)
	}
	if got.Card.Data.Name != "Aiko" {
		t.Errorf("library card name = %q", got.Card.Data.Name)
	}
}

func TestExportCard_EmptyPathSkipsLibrary(t *testing.T) {
	s := newTestService(t)
	data, err := s.ExportCard(card.New("Aiko"), nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("empty export")
	}
	if _, total, _ := s.db.ListCards(10, 0, ""); total != 0 {
		t.Errorf("library total = %d, want 0", total)
	}
}

func TestStripCard_RemovesBothChunks(t *testing.T) {
	s := newTestService(t)
	data, err := export.CardPNG(card.New("Aiko"), nil)
	if err != nil {
		t.Fatal(err)
	}

	clean, err := s.StripCard(data)
	if err != nil {
		t.Fatal(err)
	}
	payload, err := png.FindCardPayload(clean)
	if err != nil {
		t.Fatal(err)
	}
	if payload != nil {
		t.Errorf("payload still present: %s", payload.Format)
	}
}

func TestDelete_RemovesFileAndIndex(t *testing.T) {
	s := newTestService(t)
	data, err := export.CardPNG(card.New("Aiko"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ImportPNG("aiko.png", data); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete("aiko.png"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ExtractCardFromLibrary("aiko.png"); err == nil {
		t.Error("file still readable after delete")
	}
	if _, err := s.db.GetCard("aiko.png"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("index row err = %v, want ErrNotFound", err)
	}
}

func TestPrepareDisclosure(t *testing.T) {
	s := newTestService(t)
	d := s.PrepareDisclosure(sampleDoc())
	if d == nil {
		t.Fatal("expected a disclosure")
	}
	if !strings.Contains(d.Prompt, "秘密设定") {
		t.Error("prompt missing hidden label")
	}
	if len(d.Candidates) != 1 || d.Candidates[0].Label != "秘密设定" {
		t.Errorf("candidates = %+v", d.Candidates)
	}
	if len(d.Expectations) != 1 {
		t.Errorf("expectations = %+v", d.Expectations)
	}
}

func TestPrepareDisclosure_NothingHidden(t *testing.T) {
	s := newTestService(t)
	doc := &source.Document{
		Name: "Aiko",
		CharList: []source.Character{{
			Attrs: []source.Attribute{{Label: "外貌", Value: "银发", Visible: true}},
		}},
	}
	if d := s.PrepareDisclosure(doc); d != nil {
		t.Errorf("disclosure = %+v, want nil", d)
	}
}

func TestFinalizeCard_AppliesReply(t *testing.T) {
	s := newTestService(t)
	reply := `<CF_EXPORT><ATTR name="秘密设定">其实是仿生人</ATTR></CF_EXPORT><DONE/>`

	res := s.FinalizeCard(sampleDoc(), reply, "", nil)
	if res.Refused {
		t.Fatal("reply treated as refusal")
	}
	if len(res.Recovered) != 1 {
		t.Fatalf("recovered = %v", res.Recovered)
	}
	if !strings.Contains(res.Card.Data.SystemPrompt, "[秘密设定: 其实是仿生人]") {
		t.Errorf("system_prompt = %q", res.Card.Data.SystemPrompt)
	}
}

func TestFinalizeCard_DefaultPersona(t *testing.T) {
	s := newTestService(t)
	s.DefaultPersona = "Alice"
	reply := `<ATTR name="秘密设定">只对Alice温柔</ATTR>`

	res := s.FinalizeCard(sampleDoc(), reply, "", nil)
	if len(res.Recovered) != 1 {
		t.Fatalf("recovered = %v", res.Recovered)
	}
	for _, v := range res.Recovered {
		if !strings.Contains(v, "{{user}}") || strings.Contains(v, "Alice") {
			t.Errorf("value = %q, want persona replaced", v)
		}
	}
}

func TestFinalizeCard_RefusalDegrades(t *testing.T) {
	s := newTestService(t)
	res := s.FinalizeCard(sampleDoc(), "I cannot assist with that request.", "", nil)
	if !res.Refused {
		t.Error("refusal not detected")
	}
	if res.Card.Data.Name != "Aiko" {
		t.Errorf("base card name = %q", res.Card.Data.Name)
	}
	if len(res.Recovered) != 0 {
		t.Errorf("recovered = %v, want none", res.Recovered)
	}
}

func TestFinalizeCard_EmptyReply(t *testing.T) {
	s := newTestService(t)
	res := s.FinalizeCard(sampleDoc(), "", "", nil)
	if res.Refused || len(res.Recovered) != 0 {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(res.Card.Data.Description, "[外貌: 银发蓝瞳]") {
		t.Errorf("description = %q", res.Card.Data.Description)
	}
}
