package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"store-service/internal/models"
	"store-service/internal/store"
	"store-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MembershipStore is the subset of the store the membership lifecycle needs.
type MembershipStore interface {
	GetMembership(ctx context.Context, code string) (*models.Membership, error)
	CreateMembership(ctx context.Context, membership *models.Membership) error
	SetMembershipActive(ctx context.Context, code string, active bool) error
	DeleteMembership(ctx context.Context, code string) error
	GetCustomerMembershipCode(ctx context.Context, id string) (string, error)
	SetCustomerMembershipCode(ctx context.Context, id, code string) error
}

// MembershipService handles loyalty-account lifecycle: creation, deletion and
// (de)activation. Points and purchase history are owned by the sale engine and
// never touched here.
type MembershipService struct {
	store  MembershipStore
	logger *zap.Logger

	now func() time.Time
}

// NewMembershipService creates a new membership service
func NewMembershipService(store MembershipStore) *MembershipService {
	return &MembershipService{
		store:  store,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// CreateMembership creates a fresh active membership with a generated code and
// a zero points balance, and returns the code.
func (ms *MembershipService) CreateMembership(ctx context.Context) (string, error) {
	ctx, span := util.StartSpan(ctx, "MembershipService.CreateMembership")
	defer span.End()

	membership := &models.Membership{
		Code:             uuid.NewString(),
		RegistrationDate: ms.now().UTC(),
		Points:           0,
		Active:           true,
		PurchaseHistory:  models.PurchaseHistory{},
	}

	if err := ms.store.CreateMembership(ctx, membership); err != nil {
		return "", fmt.Errorf("failed to create membership: %w", err)
	}

	ms.logger.Info("Membership created", zap.String("code", membership.Code))
	return membership.Code, nil
}

// DeleteMembership deletes a membership by code. Returns false when no such
// membership exists.
func (ms *MembershipService) DeleteMembership(ctx context.Context, code string) (bool, error) {
	err := ms.store.DeleteMembership(ctx, code)
	if errors.Is(err, store.ErrNoMatch) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete membership: %w", err)
	}

	ms.logger.Info("Membership deleted", zap.String("code", code))
	return true, nil
}

// SetActive updates the activation flag of a membership by code. Returns false
// when no such membership exists.
func (ms *MembershipService) SetActive(ctx context.Context, code string, active bool) (bool, error) {
	err := ms.store.SetMembershipActive(ctx, code, active)
	if errors.Is(err, store.ErrNoMatch) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to update membership: %w", err)
	}
	return true, nil
}

// ActivateForCustomer flips the membership linked to a customer. Activating a
// customer with no membership creates one and links it; deactivating a
// customer with no membership is a no-op failure.
func (ms *MembershipService) ActivateForCustomer(ctx context.Context, customerID string, active bool) (bool, error) {
	ctx, span := util.StartSpan(ctx, "MembershipService.ActivateForCustomer")
	defer span.End()

	code, err := ms.store.GetCustomerMembershipCode(ctx, customerID)
	if err != nil {
		return false, fmt.Errorf("failed to read customer %s: %w", customerID, err)
	}

	if code != "" {
		return ms.SetActive(ctx, code, active)
	}

	if !active {
		return false, nil
	}

	code, err = ms.CreateMembership(ctx)
	if err != nil {
		return false, err
	}

	if err := ms.store.SetCustomerMembershipCode(ctx, customerID, code); err != nil {
		if errors.Is(err, store.ErrNoMatch) {
			return false, nil
		}
		return false, fmt.Errorf("failed to link membership to customer %s: %w", customerID, err)
	}

	ms.logger.Info("Membership linked to customer",
		zap.String("customer_id", customerID),
		zap.String("code", code))
	return true, nil
}
