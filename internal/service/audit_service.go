package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/project-portal/internal/events"
)

// AuditService writes auth events to the audit log.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewAuditService creates the service. Entries are written with an
// "audit" logger name so they can be routed separately.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		dispatcher: dispatcher,
		logger:     logger.Named("audit"),
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	for _, eventType := range events.AuthEventTypes {
		a.dispatcher.Subscribe(eventType, a.handle)
	}
}

func (a *AuditService) handle(_ context.Context, event events.Event) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.Time("at", event.Timestamp),
	}
	if event.Actor.SubjectID != "" {
		fields = append(fields, zap.String("subject_id", event.Actor.SubjectID))
	}
	if event.Actor.Username != "" {
		fields = append(fields, zap.String("username", event.Actor.Username))
	}
	if event.Actor.Role != "" {
		fields = append(fields, zap.String("role", string(event.Actor.Role)))
	}
	if event.Actor.Source != "" {
		fields = append(fields, zap.String("source", string(event.Actor.Source)))
	}
	if event.Payload != nil {
		fields = append(fields, zap.Any("payload", event.Payload))
	}

	if event.Type == events.EventLoginFailed {
		a.logger.Warn("auth event", fields...)
		return nil
	}
	a.logger.Info("auth event", fields...)
	return nil
}
