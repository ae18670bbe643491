// Package export assembles distributable card PNGs: the canonical card
// JSON goes into a "ccv3" text chunk and a legacy projection into a
// mirrored "chara" chunk, so both modern and older tools can read the
// result.
package export

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"

	"github.com/Shizuku-Yume/Arcaferry/internal/card"
	"github.com/Shizuku-Yume/Arcaferry/internal/png"
)

// CardPNG embeds the card into basePNG, replacing any card chunks the
// base already carries. A nil or empty base falls back to the built-in
// placeholder avatar. Image data chunks are never touched.
func CardPNG(c card.Card, basePNG []byte) ([]byte, error) {
	if len(basePNG) == 0 {
		basePNG = PlaceholderPNG()
	}

	cardJSON, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("export: marshal card: %w", err)
	}
	out, err := png.InjectText(basePNG, "ccv3", string(cardJSON), true)
	if err != nil {
		return nil, fmt.Errorf("export: embed ccv3: %w", err)
	}

	legacyJSON, err := card.LegacyJSON(c)
	if err != nil {
		return nil, fmt.Errorf("export: legacy projection: %w", err)
	}
	out, err = png.InjectText(out, "chara", legacyJSON, true)
	if err != nil {
		return nil, fmt.Errorf("export: embed chara: %w", err)
	}
	return out, nil
}

// PlaceholderPNG returns a 1x1 mid-gray PNG assembled chunk by chunk,
// used when a card has no avatar. The result is deterministic.
func PlaceholderPNG() []byte {
	ihdr := []byte{
		0, 0, 0, 1, // width
		0, 0, 0, 1, // height
		8, // bit depth
		0, // color type: grayscale
		0, // compression
		0, // filter
		0, // interlace
	}

	// One scanline: filter byte + a single gray pixel.
	var idat bytes.Buffer
	zw := zlib.NewWriter(&idat)
	_, _ = zw.Write([]byte{0x00, 0x80})
	_ = zw.Close()

	return png.Build([]png.Chunk{
		png.NewChunk("IHDR", ihdr),
		png.NewChunk("IDAT", idat.Bytes()),
		png.NewChunk("IEND", nil),
	})
}
