package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HTTP serves ranges from a URL via Range requests. A server that
// answers a ranged GET with 200 instead of 206 does not support partial
// content; that surfaces as ErrRangeNotSupported so the caller can fall
// back to a single full-object read.
type HTTP struct {
	url    string
	client *http.Client

	mu   sync.Mutex
	size int64
}

func NewHTTP(url string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTP{url: url, client: &http.Client{Timeout: timeout}, size: -1}
}

func (h *HTTP) ReadRange(ctx context.Context, offset, length int64) ([]byte, error) {
	if err := checkRange(offset, length); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build range request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("range request %q: %w (%w)", h.url, err, ErrTransient)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK:
		// Server ignored the Range header.
		return nil, fmt.Errorf("server %q ignored range header: %w", h.url, ErrRangeNotSupported)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("get %q: %w", h.url, ErrNotFound)
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return nil, fmt.Errorf("range [%d, %d) not satisfiable for %q", offset, offset+length, h.url)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("range request %q status %d: %w", h.url, resp.StatusCode, ErrTransient)
	default:
		return nil, fmt.Errorf("range request %q status %d", h.url, resp.StatusCode)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		return nil, fmt.Errorf("read range body: %w (%w)", err, ErrTransient)
	}
	return buf, nil
}

// Size probes the total length once via HEAD, falling back to a single
// ranged request and the Content-Range total when HEAD is unhelpful.
func (h *HTTP) Size(ctx context.Context) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size >= 0 {
		return h.size, nil
	}

	size, err := h.probeHead(ctx)
	if err != nil {
		size, err = h.probeRange(ctx)
	}
	if err != nil {
		return 0, err
	}
	h.size = size
	return size, nil
}

// ReadAll downloads the whole object with a plain GET. Used by the
// fallback wrapper when the server does not serve partial content.
func (h *HTTP) ReadAll(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build full request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %q: %w (%w)", h.url, err, ErrTransient)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("get %q: %w", h.url, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %q status %d", h.url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read full body: %w (%w)", err, ErrTransient)
	}
	return body, nil
}

func (h *HTTP) probeHead(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build head request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("head %q: %w (%w)", h.url, err, ErrTransient)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("head %q: %w", h.url, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("head %q status %d", h.url, resp.StatusCode)
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("head %q returned no content length", h.url)
	}
	return resp.ContentLength, nil
}

func (h *HTTP) probeRange(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := h.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe %q: %w (%w)", h.url, err, ErrTransient)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("probe %q: %w", h.url, ErrNotFound)
	}
	if resp.StatusCode == http.StatusOK {
		// Whole object came back; the size is the content length.
		if resp.ContentLength >= 0 {
			return resp.ContentLength, nil
		}
		return 0, fmt.Errorf("probe %q: %w", h.url, ErrRangeNotSupported)
	}
	if resp.StatusCode != http.StatusPartialContent {
		return 0, fmt.Errorf("probe %q status %d", h.url, resp.StatusCode)
	}
	return parseContentRangeTotal(resp.Header.Get("Content-Range"))
}

func parseContentRangeTotal(header string) (int64, error) {
	// Format: "bytes 0-0/12345".
	idx := strings.LastIndex(header, "/")
	if idx < 0 || idx == len(header)-1 {
		return 0, fmt.Errorf("malformed Content-Range %q", header)
	}
	total, err := strconv.ParseInt(header[idx+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed Content-Range %q: %w", header, err)
	}
	return total, nil
}
