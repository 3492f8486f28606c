package workflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/casaflow/engine/internal/domain"
)

var notificationChannels = map[string]bool{
	"whatsapp": true,
	"email":    true,
	"sms":      true,
}

// recipientFallbacks lists well-known context keys probed per channel when
// the config names no recipient.
var recipientFallbacks = map[string][]string{
	"whatsapp": {"recipient", "tenant_phone_e164", "guest_phone_e164"},
	"sms":      {"recipient", "tenant_phone_e164", "guest_phone_e164"},
	"email":    {"recipient", "recipient_email", "tenant_email", "guest_email"},
}

func (e *Executor) sendNotification(ctx context.Context, orgID, actionType string, cfg NotificationConfig, evCtx domain.Context) (Result, error) {
	channel := cfg.Channel
	if actionType == ActionSendWhatsApp {
		channel = "whatsapp"
	}
	if channel == "" {
		channel = "whatsapp"
	}
	if !notificationChannels[channel] {
		return skipf("unsupported channel %q", channel)
	}

	recipient := cfg.Recipient
	if recipient == "" && cfg.RecipientField != "" {
		recipient = evCtx.String(cfg.RecipientField)
	}
	if recipient == "" {
		for _, key := range recipientFallbacks[channel] {
			if recipient = evCtx.String(key); recipient != "" {
				break
			}
		}
	}
	if recipient == "" {
		return skipf("no recipient resolved for channel %q", channel)
	}

	templateID := cfg.TemplateID
	if templateID != "" {
		if _, err := uuid.Parse(templateID); err != nil {
			// A non-id reference is a template key scoped to the org.
			resolved, lerr := e.stores.Templates.TemplateIDByKey(ctx, orgID, templateID)
			if lerr != nil {
				return Result{}, errors.Wrapf(lerr, "resolve template %q", templateID)
			}
			if resolved == "" {
				e.log.Warn("message template not found",
					zap.String("org_id", orgID), zap.String("template_key", templateID))
			}
			templateID = resolved
		}
	}

	msg := domain.Message{
		OrganizationID:       orgID,
		Channel:              channel,
		Recipient:            recipient,
		Status:               "queued",
		TemplateID:           templateID,
		WhatsAppTemplateName: cfg.WhatsAppTemplateName,
		Subject:              ResolveTemplate(cfg.Subject, evCtx),
		Body:                 ResolveTemplate(cfg.Body, evCtx),
		Variables:            evCtx.Clone(),
	}

	msgID, err := e.stores.Messages.QueueMessage(ctx, msg)
	if err != nil {
		return Result{}, errors.Wrap(err, "queue message")
	}

	if e.outbound != nil {
		if err := e.outbound.PushMessage(ctx, orgID, msgID); err != nil {
			// The row is durable; delivery workers reconcile queued messages,
			// so a missed push is not an execution failure.
			e.log.Warn("outbound push failed",
				zap.String("message_id", msgID), zap.Error(err))
		}
	}
	return succeeded, nil
}
