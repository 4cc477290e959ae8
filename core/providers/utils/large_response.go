package utils

import (
	"io"
	"math"

	"github.com/valyala/fasthttp"
)

// LargeResponseReader wraps an io.Reader and releases the fasthttp response on
// Close. Used when a response body is streamed straight through to the client
// instead of being buffered, so the pooled fasthttp.Response is released only
// once the stream is fully drained.
type LargeResponseReader struct {
	io.Reader
	Resp *fasthttp.Response
}

// Close drains any unconsumed body stream and releases the underlying fasthttp
// response back to the pool. Draining prevents "whitespace in header" errors on
// connection reuse when the client disconnects before the full response is
// consumed (see: fasthttp#1743).
func (r *LargeResponseReader) Close() error {
	if r == nil || r.Resp == nil {
		return nil
	}
	if bodyStream := r.Resp.BodyStream(); bodyStream != nil {
		_, _ = io.Copy(io.Discard, bodyStream)
		if closer, ok := bodyStream.(io.Closer); ok {
			_ = closer.Close()
		}
	}
	fasthttp.ReleaseResponse(r.Resp)
	r.Resp = nil
	return nil
}

// BuildStreamingClient clones base with response-body streaming enabled, capped
// at maxBodySize. Used by adapters to avoid fully buffering an SSE response
// before teeing it to the client and the usage extractor.
func BuildStreamingClient(base *fasthttp.Client, maxBodySize int64) *fasthttp.Client {
	client := &fasthttp.Client{
		ReadTimeout:         base.ReadTimeout,
		WriteTimeout:        base.WriteTimeout,
		MaxConnsPerHost:     base.MaxConnsPerHost,
		StreamResponseBody:  true,
	}
	if maxBodySize > 0 && maxBodySize <= int64(math.MaxInt) {
		client.MaxResponseBodySize = int(maxBodySize)
	}
	return client
}
