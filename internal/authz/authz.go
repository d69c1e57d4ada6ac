package authz

import (
	"context"
	"errors"
	"time"

	"waypool-chat/internal/cache"
	"waypool-chat/internal/domain"
	"waypool-chat/internal/repository"
	waypool_errors "waypool-chat/pkg/errors"
	"waypool-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cache is the slice of the tiered cache the authorizer needs.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Authorizer answers "may this user enter this conversation". Decisions are
// cached through the tiered cache so hot-path joins and sends do not hit the
// database; cache faults degrade to the repositories, never to a denial.
type Authorizer struct {
	connections repository.ConnectionRepository
	rooms       repository.RoomRepository
	cache       Cache
	log         *logger.Logger

	membershipTTL time.Duration
}

func NewAuthorizer(
	connections repository.ConnectionRepository,
	rooms repository.RoomRepository,
	tiered Cache,
	membershipTTL time.Duration,
	log *logger.Logger,
) *Authorizer {
	if membershipTTL == 0 {
		membershipTTL = 10 * time.Minute
	}
	return &Authorizer{
		connections:   connections,
		rooms:         rooms,
		cache:         tiered,
		membershipTTL: membershipTTL,
		log:           log,
	}
}

// connectionState is the cached per-pair relation answer.
type connectionState struct {
	Status domain.ConnectionStatus `json:"status"`
	Exists bool                    `json:"exists"`
}

// CanJoinDirect authorizes userID to open the direct conversation with
// counterpartID. Any existing relation short of a block lets the user in,
// pending and rejected included; only a missing relation denies (sending
// heals it, joining does not).
func (a *Authorizer) CanJoinDirect(ctx context.Context, userID, counterpartID uuid.UUID) error {
	if userID == counterpartID {
		return waypool_errors.ErrInvalidInput
	}

	state, err := a.pairState(ctx, userID, counterpartID)
	if err != nil {
		return err
	}
	switch {
	case state.Exists && state.Status == domain.ConnectionBlocked:
		return waypool_errors.ErrBlocked
	case state.Exists:
		return nil
	}
	return waypool_errors.ErrNoConnection
}

// CanJoinRoom authorizes userID to enter a ride or group room.
func (a *Authorizer) CanJoinRoom(ctx context.Context, kind domain.ConversationKind, roomID, userID uuid.UUID) error {
	key := cache.MembershipKey(kind, roomID, userID)

	var member bool
	hit, err := a.cache.Get(ctx, key, &member)
	if err != nil {
		a.log.Warnf("authz: membership cache read failed: %v", err)
	}
	if !hit {
		member, err = a.lookupMembership(ctx, kind, roomID, userID)
		if err != nil {
			return err
		}
		if err := a.cache.Set(ctx, key, member, a.membershipTTL); err != nil {
			a.log.Warnf("authz: membership cache write failed: %v", err)
		}
	}

	if !member {
		return waypool_errors.ErrForbidden
	}
	return nil
}

// CanJoinKey authorizes a parsed conversation key for userID.
func (a *Authorizer) CanJoinKey(ctx context.Context, parsed domain.ParsedKey, userID uuid.UUID) error {
	switch parsed.Kind {
	case domain.ConversationDirect:
		if !parsed.Involves(userID) {
			return waypool_errors.ErrForbidden
		}
		counterpart := parsed.UserA
		if counterpart == userID {
			counterpart = parsed.UserB
		}
		return a.CanJoinDirect(ctx, userID, counterpart)
	case domain.ConversationRide, domain.ConversationGroup:
		return a.CanJoinRoom(ctx, parsed.Kind, parsed.RoomID, userID)
	}
	return waypool_errors.ErrInvalidInput
}

// EnsureDirectAllowed authorizes a direct send and heals a missing relation:
// a first message between unconnected users creates an accepted connection.
// Blocks still deny.
func (a *Authorizer) EnsureDirectAllowed(ctx context.Context, senderID, recipientID uuid.UUID) error {
	if senderID == recipientID {
		return waypool_errors.ErrInvalidInput
	}

	state, err := a.pairState(ctx, senderID, recipientID)
	if err != nil {
		return err
	}
	if state.Exists {
		switch state.Status {
		case domain.ConnectionBlocked:
			return waypool_errors.ErrBlocked
		case domain.ConnectionAccepted:
			return nil
		}
	}

	conn, err := a.connections.FindOrCreate(ctx, senderID, recipientID, senderID)
	if err != nil {
		return err
	}
	if conn.Status == domain.ConnectionBlocked {
		return waypool_errors.ErrBlocked
	}
	a.InvalidatePair(ctx, senderID, recipientID)
	a.log.InfoCtx(ctx, "direct connection healed on first message",
		zap.String("sender_id", senderID.String()),
		zap.String("recipient_id", recipientID.String()))
	return nil
}

// InvalidatePair drops the cached relation for a pair, called when a
// connection changes (accept, block, unblock, removal).
func (a *Authorizer) InvalidatePair(ctx context.Context, userA, userB uuid.UUID) {
	if err := a.cache.Invalidate(ctx, pairKey(userA, userB)); err != nil {
		a.log.Warnf("authz: pair invalidation failed: %v", err)
	}
}

// InvalidateMembership drops the cached room answer for one user, called on
// membership change events.
func (a *Authorizer) InvalidateMembership(ctx context.Context, kind domain.ConversationKind, roomID, userID uuid.UUID) {
	if err := a.cache.Invalidate(ctx, cache.MembershipKey(kind, roomID, userID)); err != nil {
		a.log.Warnf("authz: membership invalidation failed: %v", err)
	}
}

func (a *Authorizer) pairState(ctx context.Context, userA, userB uuid.UUID) (connectionState, error) {
	key := pairKey(userA, userB)

	var state connectionState
	hit, err := a.cache.Get(ctx, key, &state)
	if err != nil {
		a.log.Warnf("authz: pair cache read failed: %v", err)
	}
	if hit {
		return state, nil
	}

	conn, err := a.connections.GetByPair(ctx, userA, userB)
	switch {
	case err == nil:
		state = connectionState{Status: conn.Status, Exists: true}
	case errors.Is(err, waypool_errors.ErrNotFound):
		state = connectionState{}
	default:
		return connectionState{}, err
	}

	if err := a.cache.Set(ctx, key, state, a.membershipTTL); err != nil {
		a.log.Warnf("authz: pair cache write failed: %v", err)
	}
	return state, nil
}

func (a *Authorizer) lookupMembership(ctx context.Context, kind domain.ConversationKind, roomID, userID uuid.UUID) (bool, error) {
	switch kind {
	case domain.ConversationRide:
		return a.rooms.RideMembership(ctx, roomID, userID)
	case domain.ConversationGroup:
		return a.rooms.GroupMembership(ctx, roomID, userID)
	}
	return false, waypool_errors.ErrInvalidInput
}

func pairKey(a, b uuid.UUID) string {
	return "pair:" + string(domain.DirectKey(a, b))
}
