package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"parkgate/internal/models"
)

// Publisher delivers best-effort notifications. Implementations own their
// failures; callers never observe an error and must never be blocked by one.
type Publisher interface {
	Publish(ctx context.Context, payload any, template string)
}

// Render fills the template's single substitution slot. Sessions render as
// their plate, everything else as JSON.
func Render(payload any, template string) string {
	return fmt.Sprintf(template, describe(payload))
}

func describe(payload any) string {
	switch v := payload.(type) {
	case models.Session:
		return v.Plate
	case *models.Session:
		return v.Plate
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf("%v", payload)
		}
		return string(data)
	}
}

// LogPublisher emits notifications to the service log, standing in for a
// real message topic.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher returns log-backed publisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish writes the rendered message at info level.
func (p *LogPublisher) Publish(_ context.Context, payload any, template string) {
	p.logger.Info(Render(payload, template))
}

// Multi fans one notification out to several publishers.
type Multi []Publisher

// Publish forwards to every wrapped publisher.
func (m Multi) Publish(ctx context.Context, payload any, template string) {
	for _, p := range m {
		p.Publish(ctx, payload, template)
	}
}
