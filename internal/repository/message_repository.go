package repository

import (
	"context"
	"errors"
	"time"

	"waypool-chat/internal/domain"
	waypool_errors "waypool-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Create(ctx context.Context, m *domain.Message) error {
	res := r.db.WithContext(ctx).Create(m)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return waypool_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Message, error) {
	var m domain.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Message{}, waypool_errors.ErrNotFound
		}
		return domain.Message{}, err
	}
	return m, nil
}

func (r *PostgresMessageRepository) Edit(ctx context.Context, id, senderID uuid.UUID, newBody string) (domain.Message, error) {
	m, err := r.GetByID(ctx, id)
	if err != nil {
		return domain.Message{}, err
	}
	if m.SenderID != senderID {
		return domain.Message{}, waypool_errors.ErrForbidden
	}
	if m.IsDeleted {
		return domain.Message{}, waypool_errors.ErrNotFound
	}

	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"body":      newBody,
			"is_edited": true,
			"edited_at": now,
		})
	if res.Error != nil {
		return domain.Message{}, res.Error
	}

	m.Body.String = newBody
	m.Body.Valid = true
	m.IsEdited = true
	m.EditedAt.Time = now
	m.EditedAt.Valid = true
	return m, nil
}

func (r *PostgresMessageRepository) SoftDelete(ctx context.Context, id, senderID uuid.UUID) (domain.Message, error) {
	m, err := r.GetByID(ctx, id)
	if err != nil {
		return domain.Message{}, err
	}
	if m.SenderID != senderID {
		return domain.Message{}, waypool_errors.ErrForbidden
	}

	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"body":       nil,
			"is_deleted": true,
			"deleted_at": now,
		})
	if res.Error != nil {
		return domain.Message{}, res.Error
	}

	m.Body.String = ""
	m.Body.Valid = false
	m.IsDeleted = true
	m.DeletedAt.Time = now
	m.DeletedAt.Valid = true
	return m, nil
}

func (r *PostgresMessageRepository) MarkReadByIDs(ctx context.Context, ids []uuid.UUID, userID uuid.UUID) ([]domain.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var affected []domain.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("id IN ? AND is_read = false AND is_deleted = false", ids).
			Where("recipient_id = ? OR (conversation_kind <> ? AND sender_id <> ?)", userID, domain.ConversationDirect, userID).
			Find(&affected).Error; err != nil {
			return err
		}
		return r.flipRead(tx, affected)
	})
	if err != nil {
		return nil, err
	}
	return affected, nil
}

func (r *PostgresMessageRepository) MarkDirectRead(ctx context.Context, userID, counterpartID uuid.UUID) ([]domain.Message, error) {
	var affected []domain.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("conversation_kind = ? AND recipient_id = ? AND sender_id = ? AND is_read = false AND is_deleted = false",
				domain.ConversationDirect, userID, counterpartID).
			Find(&affected).Error; err != nil {
			return err
		}
		return r.flipRead(tx, affected)
	})
	if err != nil {
		return nil, err
	}
	return affected, nil
}

func (r *PostgresMessageRepository) MarkRoomRead(ctx context.Context, kind domain.ConversationKind, roomID, userID uuid.UUID) ([]domain.Message, error) {
	column, err := roomColumn(kind)
	if err != nil {
		return nil, err
	}
	var affected []domain.Message
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("conversation_kind = ? AND "+column+" = ? AND sender_id <> ? AND is_read = false AND is_deleted = false",
				kind, roomID, userID).
			Find(&affected).Error; err != nil {
			return err
		}
		return r.flipRead(tx, affected)
	})
	if err != nil {
		return nil, err
	}
	return affected, nil
}

func (r *PostgresMessageRepository) flipRead(tx *gorm.DB, affected []domain.Message) error {
	if len(affected) == 0 {
		return nil
	}
	now := time.Now()
	ids := make([]uuid.UUID, 0, len(affected))
	for i := range affected {
		ids = append(ids, affected[i].ID)
		affected[i].IsRead = true
		affected[i].ReadAt.Time = now
		affected[i].ReadAt.Valid = true
	}
	return tx.
		Model(&domain.Message{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{"is_read": true, "read_at": now}).Error
}

func (r *PostgresMessageRepository) DirectUnreadCount(ctx context.Context, userID, counterpartID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_kind = ? AND recipient_id = ? AND sender_id = ? AND is_read = false AND is_deleted = false",
			domain.ConversationDirect, userID, counterpartID).
		Count(&count).Error
	return count, err
}

func (r *PostgresMessageRepository) RoomUnreadCount(ctx context.Context, kind domain.ConversationKind, roomID, userID uuid.UUID) (int64, error) {
	column, err := roomColumn(kind)
	if err != nil {
		return 0, err
	}
	var count int64
	err = r.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_kind = ? AND "+column+" = ? AND sender_id <> ? AND is_read = false AND is_deleted = false",
			kind, roomID, userID).
		Count(&count).Error
	return count, err
}

func (r *PostgresMessageRepository) LatestDirectMessages(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = domain.ChatListDirectCap
	}
	var messages []domain.Message
	err := r.db.WithContext(ctx).Raw(`
		SELECT * FROM (
			SELECT DISTINCT ON (CASE WHEN sender_id = @user THEN recipient_id ELSE sender_id END) *
			FROM messages
			WHERE conversation_kind = 'direct' AND (sender_id = @user OR recipient_id = @user)
			ORDER BY (CASE WHEN sender_id = @user THEN recipient_id ELSE sender_id END), created_at DESC
		) latest
		ORDER BY created_at DESC
		LIMIT @limit`,
		map[string]interface{}{"user": userID, "limit": limit},
	).Scan(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *PostgresMessageRepository) LatestRoomMessages(ctx context.Context, kind domain.ConversationKind, roomIDs []uuid.UUID) (map[uuid.UUID]domain.Message, error) {
	result := make(map[uuid.UUID]domain.Message)
	if len(roomIDs) == 0 {
		return result, nil
	}
	column, err := roomColumn(kind)
	if err != nil {
		return nil, err
	}

	var messages []domain.Message
	err = r.db.WithContext(ctx).Raw(`
		SELECT DISTINCT ON (`+column+`) *
		FROM messages
		WHERE conversation_kind = ? AND `+column+` IN ?
		ORDER BY `+column+`, created_at DESC`,
		kind, roomIDs,
	).Scan(&messages).Error
	if err != nil {
		return nil, err
	}

	for _, m := range messages {
		switch kind {
		case domain.ConversationRide:
			result[m.RideID.UUID] = m
		case domain.ConversationGroup:
			result[m.GroupID.UUID] = m
		}
	}
	return result, nil
}

func (r *PostgresMessageRepository) DirectMessages(ctx context.Context, userID, counterpartID uuid.UUID, before time.Time, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("conversation_kind = ?", domain.ConversationDirect).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)",
			userID, counterpartID, counterpartID, userID)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before)
	}

	var messages []domain.Message
	err := q.Order("created_at DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *PostgresMessageRepository) RoomMessages(ctx context.Context, kind domain.ConversationKind, roomID uuid.UUID, before time.Time, limit int) ([]domain.Message, error) {
	column, err := roomColumn(kind)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("conversation_kind = ? AND "+column+" = ?", kind, roomID)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before)
	}

	var messages []domain.Message
	err = q.Order("created_at DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func roomColumn(kind domain.ConversationKind) (string, error) {
	switch kind {
	case domain.ConversationRide:
		return "ride_id", nil
	case domain.ConversationGroup:
		return "group_id", nil
	default:
		return "", waypool_errors.ErrInvalidInput
	}
}
