// Package share implements the push/pop/pull share-token lifecycle of spec
// §4.8: time- and count-limited, role-scoped invites to a dataset.
package share

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/authz"
	"github.com/beehive-sync/beehive/internal/db"
	"github.com/beehive-sync/beehive/internal/metrics"
	"github.com/beehive-sync/beehive/internal/repository"
	"github.com/beehive-sync/beehive/internal/schema"
)

// ErrExpired is returned by Pop for a Push whose until has passed
// (spec §4.8, §3 I6) — surfaced as errs.NotExists at the wire/HTTP boundary.
var ErrExpired = errors.New("share: push token expired")

// pushTokenRawLen is the random byte count for a Push.uuid (spec §3: "random
// 27 bytes").
const pushTokenRawLen = 27

// Service implements push/pop/pull. Like authz.Resolver, it carries no
// schema.Registry of its own — the caller's context registry is passed
// into each call (spec §2: many contexts, one server instance).
type Service struct {
	pushes   repository.PushRepository
	members  repository.MemberRepository
	resolver *authz.Resolver
}

// NewService constructs a share Service.
func NewService(pushes repository.PushRepository, members repository.MemberRepository, resolver *authz.Resolver) *Service {
	return &Service{pushes: pushes, members: members, resolver: resolver}
}

// Push creates a new share token for roleID on datasetID, authorized by the
// caller's sharedataset capability. until is a unix-seconds deadline; number
// is the remaining-use count (0 = unlimited).
func (s *Service) Push(ctx context.Context, datasetID, callerID uuid.UUID, schemas *schema.Registry, schemaVersion int, roleID uuid.UUID, until int64, number int) (*db.Push, error) {
	cap, err := s.resolver.Resolve(ctx, datasetID, callerID, schemas, schemaVersion)
	if err != nil {
		return nil, err
	}
	if err := authz.RequireShareDataset(cap); err != nil {
		return nil, err
	}

	sv, ok := schemas.Version(schemaVersion)
	if !ok {
		return nil, authz.ErrInvalidSchema
	}
	if _, ok := sv.Role(roleID); !ok {
		return nil, authz.ErrInvalidSchema
	}

	token, err := randomPushToken()
	if err != nil {
		return nil, fmt.Errorf("share: generating token: %w", err)
	}

	push := &db.Push{
		UUID:      token,
		DatasetID: datasetID,
		Role:      roleID,
		Until:     until,
		Number:    number,
	}
	if err := s.pushes.Create(ctx, push); err != nil {
		return nil, fmt.Errorf("share: creating push: %w", err)
	}
	metrics.PushTokensIssued.Inc()
	return push, nil
}

// Pop accepts a share token: loads the Push, checks it has not expired,
// resolves its role, and upserts the caller as an active Member with that
// role. newMemberName defaults to callerName when empty. If the push has a
// finite remaining-use count, it is decremented and removed once exhausted
// (spec §4.8, I6, P7).
func (s *Service) Pop(ctx context.Context, datasetID uuid.UUID, pushUUID string, callerID uuid.UUID, callerName, newMemberName string, now time.Time) (*db.Member, error) {
	push, err := s.pushes.GetByUUID(ctx, pushUUID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("share: loading push: %w", err)
	}
	if push.DatasetID != datasetID {
		return nil, ErrExpired
	}
	if push.Until < now.Unix() {
		return nil, ErrExpired
	}

	name := newMemberName
	if name == "" {
		name = callerName
	}

	member, err := s.members.Get(ctx, datasetID, callerID)
	switch {
	case err == nil:
		member.Role = push.Role
		member.Name = name
		member.Status = 1
		if err := s.members.Update(ctx, member); err != nil {
			return nil, fmt.Errorf("share: updating member: %w", err)
		}
	case errors.Is(err, repository.ErrNotFound):
		member = &db.Member{
			DatasetID: datasetID,
			UserID:    callerID,
			Role:      push.Role,
			Name:      name,
			Status:    1,
		}
		if err := s.members.Create(ctx, member); err != nil {
			return nil, fmt.Errorf("share: creating member: %w", err)
		}
	default:
		return nil, fmt.Errorf("share: loading member: %w", err)
	}

	if push.Number > 0 {
		push.Number--
		if push.Number == 0 {
			if err := s.pushes.Delete(ctx, push.UUID); err != nil {
				return nil, fmt.Errorf("share: deleting exhausted push: %w", err)
			}
		} else if err := s.pushes.Update(ctx, push); err != nil {
			return nil, fmt.Errorf("share: decrementing push: %w", err)
		}
	}

	metrics.PushTokensRedeemed.Inc()
	return member, nil
}

// Pull cancels an outstanding share token, authorized by the caller's
// manageshare capability.
func (s *Service) Pull(ctx context.Context, datasetID, callerID uuid.UUID, schemas *schema.Registry, schemaVersion int, pushUUID string) error {
	cap, err := s.resolver.Resolve(ctx, datasetID, callerID, schemas, schemaVersion)
	if err != nil {
		return err
	}
	if err := authz.RequireManageShare(cap); err != nil {
		return err
	}

	if err := s.pushes.Delete(ctx, pushUUID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("share: deleting push: %w", err)
	}
	return nil
}

func randomPushToken() (string, error) {
	buf := make([]byte, pushTokenRawLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
