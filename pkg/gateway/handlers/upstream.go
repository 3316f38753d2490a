package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-voice-agents/pkg/core"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/apierror"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/config"
	"github.com/vango-go/vai-voice-agents/pkg/gateway/metrics"
)

// maxUpstreamBodyBytes caps what the gateway buffers from the backend.
const maxUpstreamBodyBytes = 16 << 20

// upstream is the shared POST-JSON round trip to the OpenAI base URL.
type upstream struct {
	cfg     config.Config
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	route   string
}

type upstreamResult struct {
	status      int
	contentType string
	body        []byte
}

func (u upstream) post(ctx context.Context, path string, body []byte) (*upstreamResult, error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.UpstreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.OpenAIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+u.cfg.OpenAIAPIKey)
	req.Header.Set("Content-Type", "application/json")

	client := u.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		u.metrics.RecordUpstreamError(u.route, "transport")
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBodyBytes))
	if err != nil {
		u.metrics.RecordUpstreamError(u.route, "transport")
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		u.metrics.RecordUpstreamError(u.route, "status")
	}
	return &upstreamResult{
		status:      resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        data,
	}, nil
}

// writeTransportError renders a failed round trip: 504 on deadline, 502
// otherwise.
func writeTransportError(w http.ResponseWriter, err error, reqID string) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		apierror.Write(w, err, reqID)
		return
	}
	apierror.Write(w, core.NewTransportError(err), reqID)
}

// passThrough copies the upstream status and body verbatim.
func passThrough(w http.ResponseWriter, res *upstreamResult) {
	ct := res.contentType
	if ct == "" {
		ct = "application/json; charset=utf-8"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(res.status)
	_, _ = w.Write(res.body)
}
