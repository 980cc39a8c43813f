package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-sync/internal/connectivity"
	"github.com/noah-isme/gema-sync/internal/syncer"
)

// MessagePublisher is the subset of *nats.Conn used for fan-out.
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

type syncEvent struct {
	Source string         `json:"source"`
	Kind   string         `json:"kind"`
	Report *syncer.Report `json:"report,omitempty"`
	Online *bool          `json:"online,omitempty"`
	Signal string         `json:"signal,omitempty"`
	SentAt time.Time      `json:"sent_at"`
}

// NATSReportPublisher forwards sync reports and connectivity changes to
// "<subject>.reports" and "<subject>.connectivity".
type NATSReportPublisher struct {
	conn    MessagePublisher
	subject string
	nodeID  string
	logger  zerolog.Logger
}

// NewNATSReportPublisher constructs a publisher rooted at subject.
func NewNATSReportPublisher(conn MessagePublisher, subject string, logger zerolog.Logger) *NATSReportPublisher {
	return &NATSReportPublisher{
		conn:    conn,
		subject: subject,
		nodeID:  uuid.NewString(),
		logger:  logger.With().Str("component", "sync_report_publisher").Logger(),
	}
}

// ReportsSubject is the subject sync reports are published on.
func (p *NATSReportPublisher) ReportsSubject() string {
	return p.subject + ".reports"
}

// ConnectivitySubject is the subject connectivity changes are published on.
func (p *NATSReportPublisher) ConnectivitySubject() string {
	return p.subject + ".connectivity"
}

// Report implements syncer.Reporter.
func (p *NATSReportPublisher) Report(_ context.Context, report syncer.Report) {
	p.publish(p.ReportsSubject(), syncEvent{Kind: "sync_report", Report: &report})
}

// Connectivity publishes a connectivity transition.
func (p *NATSReportPublisher) Connectivity(transition connectivity.Transition) {
	online := transition.To == connectivity.Online
	p.publish(p.ConnectivitySubject(), syncEvent{Kind: "connectivity", Online: &online, Signal: string(transition.Source)})
}

func (p *NATSReportPublisher) publish(subject string, event syncEvent) {
	if p.conn == nil || p.subject == "" {
		return
	}
	event.Source = p.nodeID
	event.SentAt = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to encode sync event")
		return
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn().Err(err).Str("subject", subject).Msg("failed to publish sync event to broker")
	}
}
