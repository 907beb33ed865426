package stepauth

import "context"

// emitAudit queues one audit event. The metadata builder runs only when audit
// is enabled so disabled deployments pay nothing for map construction.
func (e *Engine) emitAudit(ctx context.Context, event string, success bool, userID, sessionID string, err error, metadata func() map[string]string) {
	if e.audit == nil {
		return
	}

	ev := AuditEvent{
		Time:      e.now(),
		Event:     event,
		Success:   success,
		UserID:    userID,
		SessionID: sessionID,
		ClientIP:  clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		ErrorCode: auditErrorCode(err),
	}
	if metadata != nil {
		ev.Metadata = metadata()
	}
	e.audit.emit(ev)
}
