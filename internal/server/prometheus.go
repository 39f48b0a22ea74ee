// prometheus.go - Metrics in Prometheus text exposition format
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/common/expfmt"
)

const prometheusContentType = "text/plain; version=0.0.4; charset=utf-8"

// WriteText gathers the registry and writes every family in text format 0.0.4.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// handleMetrics serves GET /metrics.
func (s *Server) handleMetrics(_ context.Context, _ *Request) Response {
	var out strings.Builder
	if err := s.metrics.WriteText(&out); err != nil {
		Error("metrics_render_failed", nil, err)
		return failure(http.StatusInternalServerError, "Error")
	}
	return Response{Status: http.StatusOK, ContentType: prometheusContentType, Body: out.String()}
}
