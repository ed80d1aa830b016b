// Package httpjson is the reference HTTP/JSON transport: unary execute via
// POST, streaming via chunked NDJSON. It exercises the same Runner contract
// the ffi transport does, but over the wire with request/response framing.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/mediacore/pipelinecore/internal/manifest"
	"github.com/mediacore/pipelinecore/internal/media"
	"github.com/mediacore/pipelinecore/internal/transport"
)

// Runner is the core-side façade this transport forwards HTTP requests to.
type Runner interface {
	Execute(ctx context.Context, m *manifest.Manifest, in *media.Envelope) (*media.Envelope, error)
	Stream(ctx context.Context, m *manifest.Manifest) (transport.StreamSession, error)
}

// Config configures the HTTP server wrapper.
type Config struct {
	RateLimitRPS   int
	RateLimitBurst int
}

// Transport is the server-side HTTP/JSON PipelineTransport. It both
// satisfies transport.PipelineTransport (for in-process callers that want
// to invoke it the same way as any other transport) and exposes an
// http.Handler for the actual network listener.
type Transport struct {
	runner Runner
	cfg    Config
	router chi.Router
}

type executeRequest struct {
	Manifest json.RawMessage `json:"manifest"`
	Input    media.Envelope  `json:"input"`
}

// New builds the HTTP/JSON transport and wires its routes.
func New(runner Runner, cfg Config) *Transport {
	t := &Transport{runner: runner, cfg: cfg}
	t.router = t.buildRouter()
	return t
}

func (t *Transport) Name() string { return "http" }

// Handler returns the http.Handler to mount on a listener.
func (t *Transport) Handler() http.Handler { return t.router }

func (t *Transport) buildRouter() chi.Router {
	r := chi.NewRouter()
	if t.cfg.RateLimitRPS > 0 {
		r.Use(httprate.LimitByIP(t.cfg.RateLimitRPS, time.Second))
	}
	r.Post("/v1/execute", t.handleExecute)
	r.Post("/v1/stream", t.handleStream)
	return r
}

func (t *Transport) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	m, err := manifest.Parse(req.Manifest, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := t.runner.Execute(r.Context(), m, &req.Input)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (t *Transport) handleStream(w http.ResponseWriter, r *http.Request) {
	var rawManifest json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&rawManifest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	m, err := manifest.Parse(rawManifest, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	session, err := t.runner.Stream(r.Context(), m)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	defer session.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for session.IsActive() {
		env, err := session.RecvOutput(r.Context())
		if err != nil || env == nil {
			return
		}
		if err := enc.Encode(env); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// Execute implements transport.PipelineTransport by issuing a loopback call
// through the router directly — used when this transport is composed as
// just another plugin rather than addressed over the network.
func (t *Transport) Execute(ctx context.Context, m *manifest.Manifest, in *media.Envelope) (*media.Envelope, error) {
	return t.runner.Execute(ctx, m, in)
}

// Stream implements transport.PipelineTransport, see Execute.
func (t *Transport) Stream(ctx context.Context, m *manifest.Manifest) (transport.StreamSession, error) {
	return t.runner.Stream(ctx, m)
}

// ClientStreamSession is a minimal client-side NDJSON stream reader for
// tools/tests talking to this transport over HTTP without a generated
// client.
type ClientStreamSession struct {
	resp *http.Response
	dec  *json.Decoder
}

// DialStream issues the streaming request and returns a reader over the
// NDJSON response body.
func DialStream(ctx context.Context, baseURL string, m *manifest.Manifest) (*ClientStreamSession, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/stream", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream request failed: %s", resp.Status)
	}
	return &ClientStreamSession{resp: resp, dec: json.NewDecoder(resp.Body)}, nil
}

// Next decodes the next NDJSON envelope, returning (nil, nil) at EOF.
func (c *ClientStreamSession) Next() (*media.Envelope, error) {
	var env media.Envelope
	if err := c.dec.Decode(&env); err != nil {
		return nil, nil
	}
	return &env, nil
}

// Close releases the underlying HTTP response body.
func (c *ClientStreamSession) Close() error {
	return c.resp.Body.Close()
}
