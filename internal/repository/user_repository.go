package repository

import (
	"context"
	"time"

	"waypool-chat/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresUserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) UserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) DisplayNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	names := make(map[uuid.UUID]string)
	if len(ids) == 0 {
		return names, nil
	}

	var users []domain.User
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		names[u.ID] = u.DisplayName
	}
	return names, nil
}

// PersistLastActive flushes coalesced last-active stamps in one transaction.
func (r *PostgresUserRepository) PersistLastActive(ctx context.Context, stamps map[uuid.UUID]time.Time) error {
	if len(stamps) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for userID, at := range stamps {
			if err := tx.
				Model(&domain.User{}).
				Where("id = ?", userID).
				Update("last_active_at", at).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
