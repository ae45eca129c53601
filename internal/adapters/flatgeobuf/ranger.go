package flatgeobuf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Ranger reads byte ranges of a dataset. A read past the end returns the
// bytes that exist, possibly none, without error.
type Ranger interface {
	ReadRange(ctx context.Context, off, length int64) ([]byte, error)
	Close() error
}

// Open returns an HTTP ranger for http(s) locations and a file ranger for
// everything else (an optional file:// prefix is stripped).
func Open(location string, timeout time.Duration) (Ranger, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return NewHTTPRanger(location, timeout), nil
	}
	return OpenFile(strings.TrimPrefix(location, "file://"))
}

// HTTPRanger issues Range requests with fasthttp.
type HTTPRanger struct {
	url     string
	client  *fasthttp.Client
	timeout time.Duration
}

// NewHTTPRanger creates a ranger for url. timeout bounds each request.
func NewHTTPRanger(url string, timeout time.Duration) *HTTPRanger {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPRanger{
		url: url,
		client: &fasthttp.Client{
			Name:                "fgbview",
			MaxConnsPerHost:     16,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 30 * time.Second,
		},
		timeout: timeout,
	}
}

func (h *HTTPRanger) ReadRange(ctx context.Context, off, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(h.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderRange, fmt.Sprintf("bytes=%d-%d", off, off+length-1))

	deadline := time.Now().Add(h.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := h.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("%w: %s bytes %d+%d: %v", ErrRangeRequest, h.url, off, length, err)
	}

	switch resp.StatusCode() {
	case fasthttp.StatusPartialContent:
		return append([]byte(nil), resp.Body()...), nil
	case fasthttp.StatusOK:
		// Server ignored the range and sent the whole file.
		body := resp.Body()
		if off >= int64(len(body)) {
			return nil, nil
		}
		end := off + length
		if end > int64(len(body)) {
			end = int64(len(body))
		}
		return append([]byte(nil), body[off:end]...), nil
	case fasthttp.StatusRequestedRangeNotSatisfiable:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s returned status %d", ErrRangeRequest, h.url, resp.StatusCode())
	}
}

// Close releases idle connections.
func (h *HTTPRanger) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

// FileRanger reads ranges from a local file.
type FileRanger struct {
	f *os.File
}

// OpenFile opens path for range reads.
func OpenFile(path string) (*FileRanger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	return &FileRanger{f: f}, nil
}

func (r *FileRanger) ReadRange(ctx context.Context, off, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	n, err := r.f.ReadAt(buf, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s at %d: %w", r.f.Name(), off, err)
	}
	return buf[:n], nil
}

func (r *FileRanger) Close() error {
	return r.f.Close()
}
