package compression

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
)

// Content-Encoding tokens understood by Manager.
const (
	MethodNone   = "identity"
	MethodGzip   = "gzip"
	MethodBrotli = "br"
)

// MinSize is the smallest payload worth compressing for a response.
const MinSize = 1024

type Manager struct {
	level int
}

// NewManager returns a codec using brotli level (0-11); gzip uses the
// nearest equivalent level.
func NewManager(level int) *Manager {
	if level < brotli.BestSpeed {
		level = brotli.BestSpeed
	}
	if level > brotli.BestCompression {
		level = brotli.BestCompression
	}
	return &Manager{level: level}
}

// Compress encodes data with method.
func (cm *Manager) Compress(data []byte, method string) ([]byte, error) {
	switch method {
	case MethodNone, "":
		return data, nil
	case MethodGzip:
		return cm.compressGzip(data)
	case MethodBrotli:
		return cm.compressBrotli(data)
	default:
		return nil, fmt.Errorf("unknown compression method: %s", method)
	}
}

func (cm *Manager) Decompress(data []byte, method string) ([]byte, error) {
	switch method {
	case MethodNone, "":
		return data, nil
	case MethodGzip:
		return cm.decompressGzip(data)
	case MethodBrotli:
		return cm.decompressBrotli(data)
	default:
		return nil, fmt.Errorf("unknown compression method: %s", method)
	}
}

// EncodeJSON marshals v and compresses it with the best method accepted by
// acceptEncoding. Payloads under MinSize are returned as is.
func (cm *Manager) EncodeJSON(v interface{}, acceptEncoding string) ([]byte, string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal data: %w", err)
	}
	if len(data) < MinSize {
		return data, MethodNone, nil
	}

	method := Negotiate(acceptEncoding)
	out, err := cm.Compress(data, method)
	if err != nil {
		return nil, "", fmt.Errorf("failed to compress with %s: %w", method, err)
	}
	return out, method, nil
}

// Negotiate picks brotli over gzip from an Accept-Encoding header value.
// Entries with q=0 are refused.
func Negotiate(acceptEncoding string) string {
	accepted := make(map[string]bool)
	for _, part := range strings.Split(acceptEncoding, ",") {
		fields := strings.Split(part, ";")
		name := strings.ToLower(strings.TrimSpace(fields[0]))
		refused := false
		for _, param := range fields[1:] {
			k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || strings.TrimSpace(k) != "q" {
				continue
			}
			if q, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && q == 0 {
				refused = true
			}
		}
		if name != "" && !refused {
			accepted[name] = true
		}
	}

	switch {
	case accepted[MethodBrotli]:
		return MethodBrotli
	case accepted[MethodGzip], accepted["*"]:
		return MethodGzip
	default:
		return MethodNone
	}
}

func (cm *Manager) gzipLevel() int {
	// brotli 0-11 onto gzip 1-9
	l := 1 + cm.level*8/11
	if l > gzip.BestCompression {
		l = gzip.BestCompression
	}
	return l
}

func (cm *Manager) compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gzWriter, err := gzip.NewWriterLevel(&buf, cm.gzipLevel())
	if err != nil {
		return nil, err
	}

	if _, err := gzWriter.Write(data); err != nil {
		gzWriter.Close()
		return nil, err
	}

	if err := gzWriter.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (cm *Manager) compressBrotli(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := brotli.NewWriterLevel(&buf, cm.level)

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, err
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (cm *Manager) decompressGzip(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}

func (cm *Manager) decompressBrotli(data []byte) ([]byte, error) {
	return io.ReadAll(brotli.NewReader(bytes.NewReader(data)))
}
