package middleware

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	mcperrors "github.com/hwiorn/mcp-sdk-go/pkg/errors"
)

// CompressedKey is the member that marks a compressed payload
const CompressedKey = "_compressed"

// EncodingGzip is the only supported encoding
const EncodingGzip = "gzip"

// maxDecompressed bounds an unwrapped payload
const maxDecompressed = 64 << 20

// CompressionConfig configures the Compression middleware
type CompressionConfig struct {
	// MinSize is the smallest params payload, in bytes, that is compressed
	MinSize int `json:"minSize"`

	// Level is the gzip level; 0 means gzip.DefaultCompression
	Level int `json:"level"`
}

// DefaultCompressionConfig returns the default compression settings
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{MinSize: 1024, Level: gzip.DefaultCompression}
}

type compressedEnvelope struct {
	Compressed *compressedPayload `json:"_compressed"`
}

type compressedPayload struct {
	Encoding string `json:"encoding"`
	Data     string `json:"data"`
}

type compressionMiddleware struct {
	config CompressionConfig
}

// Compression gzip-wraps large outgoing params as
// {"_compressed":{"encoding":"gzip","data":"<base64>"}} and unwraps
// results in that shape. Only enable it when the peer understands the
// envelope.
func Compression(cfg CompressionConfig) Middleware {
	if cfg.Level == 0 {
		cfg.Level = gzip.DefaultCompression
	}
	return &compressionMiddleware{config: cfg}
}

func (m *compressionMiddleware) Outgoing(ctx context.Context, req *Request) (context.Context, error) {
	if len(req.Params) == 0 || len(req.Params) < m.config.MinSize {
		return ctx, nil
	}
	wrapped, err := Compress(req.Params, m.config.Level)
	if err != nil {
		return ctx, mcperrors.InternalError("compress params", err)
	}
	req.Params = wrapped
	return ctx, nil
}

func (m *compressionMiddleware) Incoming(ctx context.Context, req *Request, resp *Response) error {
	if resp.Err != nil {
		return nil
	}
	raw, ok, err := Decompress(resp.Result)
	if err != nil {
		return mcperrors.ProtocolViolation(fmt.Sprintf("bad compressed result: %v", err))
	}
	if ok {
		resp.Result = raw
	}
	return nil
}

// Compress wraps payload in the compressed envelope
func Compress(payload json.RawMessage, level int) (json.RawMessage, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}

	return json.Marshal(compressedEnvelope{Compressed: &compressedPayload{
		Encoding: EncodingGzip,
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
	}})
}

// Decompress unwraps a compressed envelope. It reports false, with no
// error, when payload is not one.
func Decompress(payload json.RawMessage) (json.RawMessage, bool, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' || !bytes.Contains(trimmed, []byte(`"`+CompressedKey+`"`)) {
		return payload, false, nil
	}

	var env compressedEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil || env.Compressed == nil {
		return payload, false, nil
	}
	if env.Compressed.Encoding != EncodingGzip {
		return nil, true, fmt.Errorf("unsupported encoding %q", env.Compressed.Encoding)
	}

	data, err := base64.StdEncoding.DecodeString(env.Compressed.Data)
	if err != nil {
		return nil, true, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, true, err
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, maxDecompressed+1))
	if err != nil {
		return nil, true, err
	}
	if len(out) > maxDecompressed {
		return nil, true, fmt.Errorf("decompressed payload exceeds %d bytes", maxDecompressed)
	}
	return out, true, nil
}
