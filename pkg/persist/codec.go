// Package persist provides codec-based file persistence for arbitrary state types.
package persist

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
)

// File extensions for supported codecs.
const (
	jsonExtension = ".json"
	lz4Extension  = ".json.lz4"
)

// Default indentation for pretty-printed JSON.
const defaultIndent = "  "

// File permissions for persisted state.
const filePerm = 0o600

// Codec defines how state is serialized and deserialized.
type Codec interface {
	// Encode writes the state to the writer.
	Encode(w io.Writer, state any) error
	// Decode reads the state from the reader.
	Decode(r io.Reader, state any) error
	// Extension returns the file extension for this codec (e.g., ".json", ".gob").
	Extension() string
}

// JSONCodec implements Codec using JSON encoding with optional indentation.
type JSONCodec struct {
	// Indent specifies the indentation string. Empty string means compact JSON.
	Indent string
}

// NewJSONCodec creates a JSON codec with pretty-printing (2-space indent).
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: defaultIndent}
}

// Encode implements Codec.Encode using JSON encoding.
func (c *JSONCodec) Encode(w io.Writer, state any) error {
	encoder := json.NewEncoder(w)
	if c.Indent != "" {
		encoder.SetIndent("", c.Indent)
	}

	err := encoder.Encode(state)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using JSON decoding.
func (c *JSONCodec) Decode(r io.Reader, state any) error {
	decoder := json.NewDecoder(r)

	err := decoder.Decode(state)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for JSON files.
func (c *JSONCodec) Extension() string {
	return jsonExtension
}

// LZ4JSONCodec implements Codec by JSON-encoding state and then compressing
// it with LZ4. Useful for catalogs whose row-group lists are large enough
// that the on-disk mirror otherwise dominates directory size.
type LZ4JSONCodec struct{}

// NewLZ4JSONCodec creates an LZ4-compressed JSON codec.
func NewLZ4JSONCodec() *LZ4JSONCodec {
	return &LZ4JSONCodec{}
}

// Encode implements Codec.Encode: JSON-marshal then LZ4-compress the result.
func (c *LZ4JSONCodec) Encode(w io.Writer, state any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	zw := lz4.NewWriter(w)

	_, err = zw.Write(raw)
	if err != nil {
		return fmt.Errorf("lz4 compress: %w", err)
	}

	err = zw.Close()
	if err != nil {
		return fmt.Errorf("lz4 close: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode: LZ4-decompress then JSON-unmarshal.
func (c *LZ4JSONCodec) Decode(r io.Reader, state any) error {
	zr := lz4.NewReader(r)

	var buf bytes.Buffer

	_, err := io.Copy(&buf, zr)
	if err != nil {
		return fmt.Errorf("lz4 decompress: %w", err)
	}

	err = json.Unmarshal(buf.Bytes(), state)
	if err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension for LZ4-compressed JSON files.
func (c *LZ4JSONCodec) Extension() string {
	return lz4Extension
}

// SaveState atomically saves the given state to a file in the specified
// directory: it encodes to a temp file in the same directory, then renames
// over the destination so a crash mid-write never leaves a truncated file.
func SaveState(dir, basename string, codec Codec, state any) error {
	path := filepath.Join(dir, basename+codec.Extension())

	tmp, err := os.CreateTemp(dir, basename+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}

	tmpPath := tmp.Name()

	encodeErr := codec.Encode(tmp, state)
	closeErr := tmp.Close()

	if encodeErr != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("encode state: %w", encodeErr)
	}

	if closeErr != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("close temp state file: %w", closeErr)
	}

	err = os.Chmod(tmpPath, filePerm)
	if err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("chmod temp state file: %w", err)
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		os.Remove(tmpPath)

		return fmt.Errorf("rename state file: %w", err)
	}

	return nil
}

// LoadState loads state from a file in the specified directory.
// The filename is constructed from the basename and the codec's extension.
// The state parameter must be a pointer to the target struct.
func LoadState(dir, basename string, codec Codec, state any) error {
	filename := basename + codec.Extension()
	path := filepath.Join(dir, filename)

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	err = codec.Decode(file, state)
	if err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	return nil
}
