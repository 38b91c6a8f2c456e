package upstream

import (
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
)

// decompressingTransport wraps an http.RoundTripper and transparently
// decodes br/gzip response bodies. Go's net/http only auto-decodes gzip
// when it added the Accept-Encoding header itself; since this client sets
// its own Accept header for SSE, it must handle decoding explicitly, and
// the upstream is documented to support brotli in addition to gzip.
type decompressingTransport struct {
	base http.RoundTripper
}

func newDecompressingTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &decompressingTransport{base: base}
}

func (t *decompressingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "br, gzip")
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	switch resp.Header.Get("Content-Encoding") {
	case "br":
		resp.Body = &readCloser{Reader: brotli.NewReader(resp.Body), closer: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return resp, nil // not actually gzip-encoded despite the header; pass through raw
		}
		resp.Body = &readCloser{Reader: gz, closer: resp.Body}
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
	}
	return resp, nil
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r *readCloser) Close() error { return r.closer.Close() }
