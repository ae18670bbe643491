// Package png reads and writes PNG chunk streams without touching image
// data. It exists to carry character-card metadata in tEXt chunks: the
// codec can inject, replace, and remove a keyed text chunk and rebuilds
// the byte stream with freshly computed CRCs, leaving IHDR/IDAT payloads
// byte-for-byte intact.
package png

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Shizuku-Yume/Arcaferry/internal/apperr"
)

// signature is the fixed 8-byte PNG file header.
var signature = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// Chunk is a single PNG chunk: a 4-byte type tag and its payload.
// Length and CRC are derived on write, never stored.
type Chunk struct {
	Type [4]byte
	Data []byte
}

// TypeString returns the chunk type as a string, e.g. "IHDR".
func (c Chunk) TypeString() string {
	return string(c.Type[:])
}

// NewChunk builds a chunk from a type tag and payload.
func NewChunk(typ string, data []byte) Chunk {
	var t [4]byte
	copy(t[:], typ)
	return Chunk{Type: t, Data: data}
}

// ReadChunks parses all chunks from raw PNG bytes.
//
// Stored CRCs are skipped, not validated; they are recomputed on build.
// Parsing stops after IEND, ignoring any trailing garbage. A declared
// chunk length that exceeds the remaining bytes is a truncation error.
func ReadChunks(data []byte) ([]Chunk, error) {
	if len(data) < len(signature) || !bytes.Equal(data[:len(signature)], signature) {
		return nil, apperr.ErrInvalidSignature
	}

	var chunks []Chunk
	pos := len(signature)

	for pos < len(data) {
		if pos+8 > len(data) {
			break
		}

		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4

		var typ [4]byte
		copy(typ[:], data[pos:pos+4])
		pos += 4

		if pos+length+4 > len(data) {
			return nil, fmt.Errorf("png: chunk %q: %w", string(typ[:]), apperr.ErrTruncatedChunk)
		}

		payload := make([]byte, length)
		copy(payload, data[pos:pos+length])
		pos += length + 4 // payload + stored CRC

		chunks = append(chunks, Chunk{Type: typ, Data: payload})

		if string(typ[:]) == "IEND" {
			break
		}
	}

	return chunks, nil
}

// Build serializes chunks back into a PNG byte stream. Every chunk gets
// a freshly computed CRC over type+payload.
func Build(chunks []Chunk) []byte {
	size := len(signature)
	for _, c := range chunks {
		size += 12 + len(c.Data)
	}
	out := make([]byte, 0, size)
	out = append(out, signature...)

	var u32 [4]byte
	for _, c := range chunks {
		binary.BigEndian.PutUint32(u32[:], uint32(len(c.Data)))
		out = append(out, u32[:]...)
		out = append(out, c.Type[:]...)
		out = append(out, c.Data...)
		binary.BigEndian.PutUint32(u32[:], chunkCRC(c.Type[:], c.Data))
		out = append(out, u32[:]...)
	}
	return out
}

// decodeText decodes a tEXt payload: keyword, NUL, body. The body is
// base64-decoded when possible, otherwise taken as raw text so chunks
// written by other tools stay readable.
func decodeText(payload []byte) (keyword, text string, ok bool) {
	i := bytes.IndexByte(payload, 0)
	if i < 0 {
		return "", "", false
	}
	keyword = string(payload[:i])
	body := payload[i+1:]
	if decoded, err := base64.StdEncoding.DecodeString(string(body)); err == nil {
		return keyword, string(decoded), true
	}
	return keyword, string(body), true
}

// decodeInternationalText decodes an iTXt payload:
// keyword, NUL, compression flag, compression method, language tag, NUL,
// translated keyword, NUL, text.
func decodeInternationalText(payload []byte) (keyword, text string, ok bool) {
	i := bytes.IndexByte(payload, 0)
	if i < 0 {
		return "", "", false
	}
	keyword = string(payload[:i])
	rest := payload[i+1:]
	if len(rest) < 2 {
		return "", "", false
	}
	compressed := rest[0] == 1
	rest = rest[2:]

	if j := bytes.IndexByte(rest, 0); j >= 0 {
		rest = rest[j+1:]
	} else {
		return "", "", false
	}
	if j := bytes.IndexByte(rest, 0); j >= 0 {
		rest = rest[j+1:]
	} else {
		return "", "", false
	}

	if compressed {
		body, err := inflate(rest)
		if err != nil {
			return "", "", false
		}
		return keyword, string(body), true
	}
	return keyword, string(rest), true
}

// decodeCompressedText decodes a zTXt payload: keyword, NUL, compression
// method, zlib-compressed text.
func decodeCompressedText(payload []byte) (keyword, text string, ok bool) {
	i := bytes.IndexByte(payload, 0)
	if i < 0 || i+2 > len(payload) {
		return "", "", false
	}
	keyword = string(payload[:i])
	body, err := inflate(payload[i+2:])
	if err != nil {
		return "", "", false
	}
	return keyword, string(body), true
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// decodeAnyText decodes a text-carrying chunk of any of the three PNG
// text chunk types; returns ok=false for non-text chunks.
func decodeAnyText(c Chunk) (keyword, text string, ok bool) {
	switch c.TypeString() {
	case "tEXt":
		return decodeText(c.Data)
	case "iTXt":
		return decodeInternationalText(c.Data)
	case "zTXt":
		return decodeCompressedText(c.Data)
	}
	return "", "", false
}

// ReadText decodes every text chunk (tEXt, iTXt, zTXt) into a
// keyword→text map.
func ReadText(data []byte) (map[string]string, error) {
	chunks, err := ReadChunks(data)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, c := range chunks {
		if kw, text, ok := decodeAnyText(c); ok {
			out[kw] = text
		}
	}
	return out, nil
}

// buildTextPayload assembles a tEXt payload: keyword, NUL separator,
// base64 of the text (base64 keeps arbitrary JSON newline-free and
// binary-safe inside the chunk).
func buildTextPayload(keyword, text string) []byte {
	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	payload := make([]byte, 0, len(keyword)+1+len(encoded))
	payload = append(payload, keyword...)
	payload = append(payload, 0)
	payload = append(payload, encoded...)
	return payload
}

// InjectText inserts a tEXt chunk carrying text under keyword.
//
// With replace set, an existing tEXt chunk with the same keyword is
// replaced in place; otherwise the new chunk goes immediately before
// IEND. Only text chunks are ever touched — IHDR, IDAT and every other
// chunk pass through untouched.
func InjectText(data []byte, keyword, text string, replace bool) ([]byte, error) {
	chunks, err := ReadChunks(data)
	if err != nil {
		return nil, err
	}

	newChunk := NewChunk("tEXt", buildTextPayload(keyword, text))

	out := make([]Chunk, 0, len(chunks)+1)
	replaced := false
	for _, c := range chunks {
		if replace && c.TypeString() == "tEXt" {
			if kw, _, ok := decodeText(c.Data); ok && kw == keyword {
				out = append(out, newChunk)
				replaced = true
				continue
			}
		}
		out = append(out, c)
	}

	if !replaced {
		inserted := false
		for i, c := range out {
			if c.TypeString() == "IEND" {
				out = append(out[:i], append([]Chunk{newChunk}, out[i:]...)...)
				inserted = true
				break
			}
		}
		if !inserted {
			out = append(out, newChunk)
		}
	}

	return Build(out), nil
}

// RemoveText drops every text chunk (tEXt, iTXt, zTXt) whose keyword
// matches, then rebuilds.
func RemoveText(data []byte, keyword string) ([]byte, error) {
	chunks, err := ReadChunks(data)
	if err != nil {
		return nil, err
	}
	out := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if kw, _, ok := decodeAnyText(c); ok && kw == keyword {
			continue
		}
		out = append(out, c)
	}
	return Build(out), nil
}

// CardPayload is an embedded character card found in a PNG.
type CardPayload struct {
	Format string // "ccv3" or "chara"
	JSON   string
}

// FindCardPayload returns the embedded card, preferring the ccv3 chunk
// over the legacy chara chunk. Returns nil when neither is present.
func FindCardPayload(data []byte) (*CardPayload, error) {
	texts, err := ReadText(data)
	if err != nil {
		return nil, err
	}
	if j, ok := texts["ccv3"]; ok {
		return &CardPayload{Format: "ccv3", JSON: j}, nil
	}
	if j, ok := texts["chara"]; ok {
		return &CardPayload{Format: "chara", JSON: j}, nil
	}
	return nil, nil
}

// ImageDataChunks returns the payloads of all IDAT chunks, used to verify
// that metadata operations leave image data intact.
func ImageDataChunks(data []byte) ([][]byte, error) {
	chunks, err := ReadChunks(data)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, c := range chunks {
		if c.TypeString() == "IDAT" {
			out = append(out, c.Data)
		}
	}
	return out, nil
}
