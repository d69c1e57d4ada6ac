package pipeline

import (
	"fmt"

	"waypool-chat/internal/domain"
	waypool_errors "waypool-chat/pkg/errors"

	"github.com/google/uuid"
)

const maxBodyLength = 4000

var validKinds = map[domain.MessageKind]bool{
	domain.KindText:     true,
	domain.KindImage:    true,
	domain.KindLocation: true,
	domain.KindFile:     true,
	domain.KindVoice:    true,
	domain.KindUrgent:   true,
}

// Validate checks a message before it is accepted into a lane. Rejections
// here are terminal; nothing is queued.
func Validate(m *domain.Message) error {
	if m.SenderID == uuid.Nil {
		return fmt.Errorf("%w: missing sender", waypool_errors.ErrValidation)
	}
	if !validKinds[m.Kind] {
		return fmt.Errorf("%w: unknown message kind %q", waypool_errors.ErrValidation, m.Kind)
	}

	targets := 0
	if m.RecipientID.Valid {
		targets++
	}
	if m.RideID.Valid {
		targets++
	}
	if m.GroupID.Valid {
		targets++
	}
	if targets != 1 {
		return fmt.Errorf("%w: exactly one of recipient, ride or group must be set", waypool_errors.ErrValidation)
	}

	switch {
	case m.RecipientID.Valid && m.ConversationKind != domain.ConversationDirect,
		m.RideID.Valid && m.ConversationKind != domain.ConversationRide,
		m.GroupID.Valid && m.ConversationKind != domain.ConversationGroup:
		return fmt.Errorf("%w: conversation kind does not match target", waypool_errors.ErrValidation)
	}

	if m.RecipientID.Valid && m.RecipientID.UUID == m.SenderID {
		return fmt.Errorf("%w: cannot message yourself", waypool_errors.ErrValidation)
	}

	body := ""
	if m.Body.Valid {
		body = m.Body.String
	}
	if len(body) > maxBodyLength {
		return fmt.Errorf("%w: body exceeds %d characters", waypool_errors.ErrValidation, maxBodyLength)
	}
	if (m.Kind == domain.KindText || m.Kind == domain.KindUrgent) && body == "" {
		return fmt.Errorf("%w: text message requires a body", waypool_errors.ErrValidation)
	}

	return nil
}
