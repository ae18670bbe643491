package export

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/Shizuku-Yume/Arcaferry/internal/card"
	"github.com/Shizuku-Yume/Arcaferry/internal/png"
)

func TestPlaceholderPNG(t *testing.T) {
	data := PlaceholderPNG()
	chunks, err := png.ReadChunks(data)
	if err != nil {
		t.Fatalf("placeholder does not parse: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want IHDR+IDAT+IEND", len(chunks))
	}
	if !bytes.Equal(data, PlaceholderPNG()) {
		t.Error("placeholder is not deterministic")
	}
}

func TestCardPNG_EmbedsBothChunks(t *testing.T) {
	c := card.New("Aiko")
	c.Data.Description = "[身高: 170cm]"

	data, err := CardPNG(c, nil)
	if err != nil {
		t.Fatal(err)
	}

	payload, err := png.FindCardPayload(data)
	if err != nil {
		t.Fatal(err)
	}
	if payload == nil || payload.Format != "ccv3" {
		t.Fatalf("payload = %+v, want ccv3", payload)
	}

	var decoded card.Card
	if err := json.Unmarshal([]byte(payload.JSON), &decoded); err != nil {
		t.Fatalf("embedded json: %v", err)
	}
	if decoded.Data.Name != "Aiko" || decoded.Spec != card.SpecName {
		t.Errorf("decoded = %+v", decoded)
	}

	texts, err := png.ReadText(data)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := texts["chara"]; !ok {
		t.Error("chara compatibility chunk missing")
	}
}

func TestCardPNG_ReplacesExistingCard(t *testing.T) {
	first, err := CardPNG(card.New("Old"), nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := CardPNG(card.New("New"), first)
	if err != nil {
		t.Fatal(err)
	}

	texts, err := png.ReadText(second)
	if err != nil {
		t.Fatal(err)
	}
	if len(texts) != 2 {
		t.Errorf("text chunks = %d, want exactly ccv3 + chara", len(texts))
	}

	payload, err := png.FindCardPayload(second)
	if err != nil {
		t.Fatal(err)
	}
	var decoded card.Card
	if err := json.Unmarshal([]byte(payload.JSON), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Data.Name != "New" {
		t.Errorf("name = %q, want New", decoded.Data.Name)
	}
}

func TestCardPNG_PreservesImageData(t *testing.T) {
	base := PlaceholderPNG()
	before, err := png.ImageDataChunks(base)
	if err != nil {
		t.Fatal(err)
	}

	out, err := CardPNG(card.New("Aiko"), base)
	if err != nil {
		t.Fatal(err)
	}
	after, err := png.ImageDataChunks(out)
	if err != nil {
		t.Fatal(err)
	}

	if len(before) != len(after) {
		t.Fatalf("idat count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if !bytes.Equal(before[i], after[i]) {
			t.Errorf("idat[%d] changed", i)
		}
	}
}
