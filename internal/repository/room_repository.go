package repository

import (
	"context"

	"waypool-chat/internal/domain"
	waypool_errors "waypool-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresRoomRepository struct {
	db *gorm.DB
}

func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &PostgresRoomRepository{db: db}
}

func (r *PostgresRoomRepository) RideMembership(ctx context.Context, rideID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.RideMember{}).
		Where("ride_id = ? AND user_id = ?", rideID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}
	// Ride creators are members even without a membership row.
	err = r.db.WithContext(ctx).
		Model(&domain.Ride{}).
		Where("id = ? AND creator_id = ?", rideID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *PostgresRoomRepository) GroupMembership(ctx context.Context, groupID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.GroupMember{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}
	err = r.db.WithContext(ctx).
		Model(&domain.Group{}).
		Where("id = ? AND creator_id = ?", groupID, userID).
		Count(&count).Error
	return count > 0, err
}

func (r *PostgresRoomRepository) RideIDsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Raw(`
		SELECT ride_id FROM ride_members WHERE user_id = ?
		UNION
		SELECT id FROM rides WHERE creator_id = ?`,
		userID, userID,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PostgresRoomRepository) GroupIDsOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).Raw(`
		SELECT group_id FROM group_members WHERE user_id = ?
		UNION
		SELECT id FROM groups WHERE creator_id = ?`,
		userID, userID,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PostgresRoomRepository) MemberIDs(ctx context.Context, kind domain.ConversationKind, roomID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	var err error
	switch kind {
	case domain.ConversationRide:
		err = r.db.WithContext(ctx).Raw(`
			SELECT user_id FROM ride_members WHERE ride_id = ?
			UNION
			SELECT creator_id FROM rides WHERE id = ?`,
			roomID, roomID,
		).Scan(&ids).Error
	case domain.ConversationGroup:
		err = r.db.WithContext(ctx).Raw(`
			SELECT user_id FROM group_members WHERE group_id = ?
			UNION
			SELECT creator_id FROM groups WHERE id = ?`,
			roomID, roomID,
		).Scan(&ids).Error
	default:
		return nil, waypool_errors.ErrInvalidInput
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *PostgresRoomRepository) RoomNames(ctx context.Context, kind domain.ConversationKind, roomIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	names := make(map[uuid.UUID]string)
	if len(roomIDs) == 0 {
		return names, nil
	}

	switch kind {
	case domain.ConversationRide:
		var rides []domain.Ride
		if err := r.db.WithContext(ctx).Where("id IN ?", roomIDs).Find(&rides).Error; err != nil {
			return nil, err
		}
		for _, ride := range rides {
			names[ride.ID] = ride.Title
		}
	case domain.ConversationGroup:
		var groups []domain.Group
		if err := r.db.WithContext(ctx).Where("id IN ?", roomIDs).Find(&groups).Error; err != nil {
			return nil, err
		}
		for _, g := range groups {
			names[g.ID] = g.Name
		}
	default:
		return nil, waypool_errors.ErrInvalidInput
	}
	return names, nil
}
