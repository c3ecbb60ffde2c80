package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vietddude/apiwatch/internal/core/domain"
	"github.com/vietddude/apiwatch/internal/health"
	"github.com/vietddude/apiwatch/internal/infra/export"
	"github.com/vietddude/apiwatch/internal/infra/probe"
)

// Report is a point-in-time dump of the monitoring state.
type Report struct {
	GeneratedAt time.Time               `json:"generatedAt"`
	Overall     health.SystemHealth     `json:"overall"`
	Connections []ConnectionReport      `json:"connections"`
	Alerts      []domain.Alert          `json:"alerts"`
	RateLimits  []domain.RateLimitState `json:"rateLimits"`
}

// ConnectionReport is one connection with its latest snapshot.
type ConnectionReport struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Kind        domain.TransportKind    `json:"kind"`
	Endpoint    string                  `json:"endpoint"`
	Status      domain.ConnectionStatus `json:"status"`
	LastLatency time.Duration           `json:"lastLatency"`
	Health      *domain.HealthSnapshot  `json:"health,omitempty"`
	LastError   *domain.ErrorEntry      `json:"lastError,omitempty"`
	Throttle    probe.ThrottleStats     `json:"throttle"`
}

// BuildReport collects the current state. Credentials are never included.
func (s *Service) BuildReport() Report {
	conns := s.registry.List()
	report := Report{
		GeneratedAt: s.now().UTC(),
		Overall:     s.aggregator.Overall(),
		Connections: make([]ConnectionReport, 0, len(conns)),
		Alerts:      s.engine.All(),
		RateLimits:  s.tracker.All(),
	}
	for _, c := range conns {
		cr := ConnectionReport{
			ID:          c.ID,
			Name:        c.Name,
			Kind:        c.Kind,
			Endpoint:    c.Endpoint,
			Status:      c.Status,
			LastLatency: c.LastLatency,
			Throttle:    s.throttle.Stats(c.ID),
		}
		if snap, ok := s.aggregator.Snapshot(c.ID); ok {
			cr.Health = &snap
		}
		if e, ok := c.ErrorLog.Latest(); ok {
			cr.LastError = &e
		}
		report.Connections = append(report.Connections, cr)
	}
	return report
}

// ExportReport writes the current report to the export sink and returns its name.
func (s *Service) ExportReport(ctx context.Context) (string, error) {
	if s.sink == nil {
		return "", export.ErrDisabled
	}
	report := s.BuildReport()
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	name := "report-" + report.GeneratedAt.Format("20060102T150405Z") + ".json"
	if err := s.sink.Write(ctx, name, data); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	s.log.Info("Report exported", "name", name, "connections", len(report.Connections))
	return name, nil
}

// ExportMappings writes the mapping set of one connection to the export sink.
func (s *Service) ExportMappings(ctx context.Context, apiID string) (string, error) {
	if s.sink == nil {
		return "", export.ErrDisabled
	}
	if _, err := s.registry.Get(apiID); err != nil {
		return "", err
	}
	data, err := s.mappings.Studio(apiID).ExportAll()
	if err != nil {
		return "", fmt.Errorf("export mappings: %w", err)
	}
	name := "mappings-" + apiID + ".json"
	if err := s.sink.Write(ctx, name, data); err != nil {
		return "", fmt.Errorf("write mappings: %w", err)
	}
	return name, nil
}
