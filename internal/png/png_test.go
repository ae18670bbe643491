package png

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"

	"github.com/Shizuku-Yume/Arcaferry/internal/apperr"
)

// minimalPNG assembles a 1x1 grayscale PNG by hand: IHDR + IDAT + IEND.
func minimalPNG(t *testing.T) []byte {
	t.Helper()

	ihdr := []byte{
		0, 0, 0, 1, // width
		0, 0, 0, 1, // height
		8, // bit depth
		0, // color type: grayscale
		0, // compression
		0, // filter
		0, // interlace
	}
	idat := []byte{0x08, 0xD7, 0x63, 0x60, 0x00, 0x00, 0x00, 0x02, 0x00, 0x01}

	return Build([]Chunk{
		NewChunk("IHDR", ihdr),
		NewChunk("IDAT", idat),
		NewChunk("IEND", nil),
	})
}

func TestReadChunks(t *testing.T) {
	chunks, err := ReadChunks(minimalPNG(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	want := []string{"IHDR", "IDAT", "IEND"}
	for i, w := range want {
		if chunks[i].TypeString() != w {
			t.Errorf("chunks[%d] = %q, want %q", i, chunks[i].TypeString(), w)
		}
	}
}

func TestReadChunks_InvalidSignature(t *testing.T) {
	_, err := ReadChunks([]byte{0, 1, 2, 3, 4, 5, 6, 7})
	if !errors.Is(err, apperr.ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestReadChunks_Truncated(t *testing.T) {
	data := minimalPNG(t)
	// Corrupt the IHDR length to point past the end of the buffer.
	binary.BigEndian.PutUint32(data[8:12], 1<<20)
	_, err := ReadChunks(data)
	if !errors.Is(err, apperr.ErrTruncatedChunk) {
		t.Errorf("err = %v, want ErrTruncatedChunk", err)
	}
}

func TestReadChunks_IgnoresTrailingGarbage(t *testing.T) {
	data := append(minimalPNG(t), []byte("trailing junk after IEND")...)
	chunks, err := ReadChunks(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 3 {
		t.Errorf("len(chunks) = %d, want 3", len(chunks))
	}
}

func TestBuild_Roundtrip(t *testing.T) {
	original := minimalPNG(t)
	chunks, err := ReadChunks(original)
	if err != nil {
		t.Fatal(err)
	}
	rebuilt := Build(chunks)
	if !bytes.Equal(original, rebuilt) {
		t.Error("rebuild is not byte-identical")
	}
}

func TestBuild_ChecksumsMatchReference(t *testing.T) {
	data, err := InjectText(minimalPNG(t), "ccv3", `{"x":1}`, true)
	if err != nil {
		t.Fatal(err)
	}

	// Walk the raw stream and verify each stored CRC against an
	// independent computation.
	pos := 8
	for pos < len(data) {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		typ := data[pos+4 : pos+8]
		payload := data[pos+8 : pos+8+length]
		stored := binary.BigEndian.Uint32(data[pos+8+length : pos+12+length])

		want := crc32.ChecksumIEEE(append(append([]byte{}, typ...), payload...))
		if stored != want {
			t.Errorf("chunk %q crc = %#x, want %#x", typ, stored, want)
		}
		pos += 12 + length
	}
}

func TestInjectText_InsertsBeforeIEND(t *testing.T) {
	json := `{"name":"Test"}`
	modified, err := InjectText(minimalPNG(t), "ccv3", json, false)
	if err != nil {
		t.Fatal(err)
	}

	chunks, err := ReadChunks(modified)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 4 {
		t.Fatalf("len(chunks) = %d, want 4", len(chunks))
	}
	if chunks[2].TypeString() != "tEXt" {
		t.Errorf("chunks[2] = %q, want tEXt before IEND", chunks[2].TypeString())
	}

	kw, text, ok := decodeText(chunks[2].Data)
	if !ok || kw != "ccv3" || text != json {
		t.Errorf("decoded (%q, %q, %v), want (ccv3, %q, true)", kw, text, ok, json)
	}
}

func TestInjectText_RoundtripExact(t *testing.T) {
	modified, err := InjectText(minimalPNG(t), "ccv3", `{"x":1}`, true)
	if err != nil {
		t.Fatal(err)
	}
	texts, err := ReadText(modified)
	if err != nil {
		t.Fatal(err)
	}
	if len(texts) != 1 || texts["ccv3"] != `{"x":1}` {
		t.Errorf("texts = %v, want ccv3 -> {\"x\":1}", texts)
	}
}

func TestInjectText_ReplaceExisting(t *testing.T) {
	first, err := InjectText(minimalPNG(t), "ccv3", `{"version":1}`, false)
	if err != nil {
		t.Fatal(err)
	}
	second, err := InjectText(first, "ccv3", `{"version":2}`, true)
	if err != nil {
		t.Fatal(err)
	}

	texts, err := ReadText(second)
	if err != nil {
		t.Fatal(err)
	}
	if len(texts) != 1 {
		t.Fatalf("len(texts) = %d, want 1", len(texts))
	}
	if texts["ccv3"] != `{"version":2}` {
		t.Errorf("ccv3 = %q, want version 2", texts["ccv3"])
	}
}

func TestInjectText_PreservesImageData(t *testing.T) {
	base := minimalPNG(t)
	before, err := ImageDataChunks(base)
	if err != nil {
		t.Fatal(err)
	}

	modified, err := InjectText(base, "ccv3", `{"test":true}`, false)
	if err != nil {
		t.Fatal(err)
	}
	after, err := ImageDataChunks(modified)
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

func TestReadText_RawFallback(t *testing.T) {
	// A tEXt body that is not valid base64 must come back as raw text.
	raw := []byte("note\x00plain, not base64!")
	data := Build([]Chunk{
		NewChunk("IHDR", make([]byte, 13)),
		NewChunk("tEXt", raw),
		NewChunk("IEND", nil),
	})

	texts, err := ReadText(data)
	if err != nil {
		t.Fatal(err)
	}
	if texts["note"] != "plain, not base64!" {
		t.Errorf("note = %q, want raw fallback", texts["note"])
	}
}

func TestRemoveText(t *testing.T) {
	data, err := InjectText(minimalPNG(t), "ccv3", `{"x":1}`, false)
	if err != nil {
		t.Fatal(err)
	}
	data, err = InjectText(data, "chara", `{"y":2}`, false)
	if err != nil {
		t.Fatal(err)
	}

	stripped, err := RemoveText(data, "ccv3")
	if err != nil {
		t.Fatal(err)
	}
	texts, err := ReadText(stripped)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := texts["ccv3"]; ok {
		t.Error("ccv3 chunk still present after removal")
	}
	if texts["chara"] != `{"y":2}` {
		t.Errorf("chara = %q, want untouched", texts["chara"])
	}
}

func TestFindCardPayload_PrefersCCV3(t *testing.T) {
	data, err := InjectText(minimalPNG(t), "chara", `{"v2":"data"}`, false)
	if err != nil {
		t.Fatal(err)
	}
	data, err = InjectText(data, "ccv3", `{"v3":"data"}`, false)
	if err != nil {
		t.Fatal(err)
	}

	card, err := FindCardPayload(data)
	if err != nil {
		t.Fatal(err)
	}
	if card == nil || card.Format != "ccv3" || card.JSON != `{"v3":"data"}` {
		t.Errorf("card = %+v, want ccv3 payload", card)
	}
}

func TestFindCardPayload_LegacyFallback(t *testing.T) {
	data, err := InjectText(minimalPNG(t), "chara", `{"v2":"data"}`, false)
	if err != nil {
		t.Fatal(err)
	}
	card, err := FindCardPayload(data)
	if err != nil {
		t.Fatal(err)
	}
	if card == nil || card.Format != "chara" {
		t.Errorf("card = %+v, want chara payload", card)
	}
}

func TestFindCardPayload_None(t *testing.T) {
	card, err := FindCardPayload(minimalPNG(t))
	if err != nil {
		t.Fatal(err)
	}
	if card != nil {
		t.Errorf("card = %+v, want nil", card)
	}
}
