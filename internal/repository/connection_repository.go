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

type PostgresConnectionRepository struct {
	db *gorm.DB
}

func NewConnectionRepository(db *gorm.DB) ConnectionRepository {
	return &PostgresConnectionRepository{db: db}
}

func (r *PostgresConnectionRepository) GetByPair(ctx context.Context, a, b uuid.UUID) (domain.Connection, error) {
	first, second := domain.OrderPair(a, b)
	var conn domain.Connection
	err := r.db.WithContext(ctx).
		Where("user_a_id = ? AND user_b_id = ?", first, second).
		First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Connection{}, waypool_errors.ErrNotFound
		}
		return domain.Connection{}, err
	}
	return conn, nil
}

func (r *PostgresConnectionRepository) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	conn, err := r.GetByPair(ctx, a, b)
	if err != nil {
		if errors.Is(err, waypool_errors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return conn.Status == domain.ConnectionAccepted, nil
}

func (r *PostgresConnectionRepository) IsBlocked(ctx context.Context, a, b uuid.UUID) (bool, error) {
	conn, err := r.GetByPair(ctx, a, b)
	if err != nil {
		if errors.Is(err, waypool_errors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return conn.Status == domain.ConnectionBlocked, nil
}

func (r *PostgresConnectionRepository) FindOrCreate(ctx context.Context, a, b, initiator uuid.UUID) (domain.Connection, error) {
	if a == b {
		return domain.Connection{}, waypool_errors.ErrInvalidInput
	}

	conn, err := r.GetByPair(ctx, a, b)
	if err == nil {
		return conn, nil
	}
	if !errors.Is(err, waypool_errors.ErrNotFound) {
		return domain.Connection{}, err
	}

	first, second := domain.OrderPair(a, b)
	now := time.Now()
	conn = domain.Connection{
		ID:          uuid.New(),
		UserAID:     first,
		UserBID:     second,
		Status:      domain.ConnectionAccepted,
		RequestedBy: initiator,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	res := r.db.WithContext(ctx).Create(&conn)
	if res.Error != nil {
		// Concurrent first messages race on the unique pair index.
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return r.GetByPair(ctx, a, b)
		}
		return domain.Connection{}, res.Error
	}
	return conn, nil
}

func (r *PostgresConnectionRepository) UpdateLastMessageAt(ctx context.Context, a, b uuid.UUID, at time.Time) error {
	first, second := domain.OrderPair(a, b)
	res := r.db.WithContext(ctx).
		Model(&domain.Connection{}).
		Where("user_a_id = ? AND user_b_id = ?", first, second).
		Updates(map[string]interface{}{"last_message_at": at, "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return waypool_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresConnectionRepository) AcceptedConnectionIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var connections []domain.Connection
	err := r.db.WithContext(ctx).
		Where("(user_a_id = ? OR user_b_id = ?) AND status = ?", userID, userID, domain.ConnectionAccepted).
		Find(&connections).Error
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(connections))
	for i := range connections {
		ids = append(ids, connections[i].OtherUser(userID))
	}
	return ids, nil
}
