package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ride and Group rows are owned by the ride/group domain services; the
// messaging core only reads them for membership checks and display names.

type Ride struct {
	ID        uuid.UUID
	CreatorID uuid.UUID
	Title     string
	Status    string
	CreatedAt time.Time
}

func (Ride) TableName() string { return "rides" }

type RideMember struct {
	RideID   uuid.UUID
	UserID   uuid.UUID
	JoinedAt time.Time
}

func (RideMember) TableName() string { return "ride_members" }

type Group struct {
	ID        uuid.UUID
	CreatorID uuid.UUID
	Name      string
	CreatedAt time.Time
}

func (Group) TableName() string { return "groups" }

type GroupMember struct {
	GroupID  uuid.UUID
	UserID   uuid.UUID
	JoinedAt time.Time
}

func (GroupMember) TableName() string { return "group_members" }
