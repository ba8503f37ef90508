package service

import (
	"context"
	"fmt"
	"testing"

	"store-service/internal/models"
	"store-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMembershipStore struct {
	memberships map[string]*models.Membership
	customers   map[string]string // customer id -> membership code
}

func newFakeMembershipStore() *fakeMembershipStore {
	return &fakeMembershipStore{
		memberships: map[string]*models.Membership{},
		customers:   map[string]string{},
	}
}

func (f *fakeMembershipStore) GetMembership(_ context.Context, code string) (*models.Membership, error) {
	m, ok := f.memberships[code]
	if !ok {
		return nil, fmt.Errorf("membership not found: %s", code)
	}
	return m, nil
}

func (f *fakeMembershipStore) CreateMembership(_ context.Context, membership *models.Membership) error {
	f.memberships[membership.Code] = membership
	return nil
}

func (f *fakeMembershipStore) SetMembershipActive(_ context.Context, code string, active bool) error {
	m, ok := f.memberships[code]
	if !ok {
		return store.ErrNoMatch
	}
	m.Active = active
	return nil
}

func (f *fakeMembershipStore) DeleteMembership(_ context.Context, code string) error {
	if _, ok := f.memberships[code]; !ok {
		return store.ErrNoMatch
	}
	delete(f.memberships, code)
	return nil
}

func (f *fakeMembershipStore) GetCustomerMembershipCode(_ context.Context, id string) (string, error) {
	code, ok := f.customers[id]
	if !ok {
		return "", fmt.Errorf("customer not found: %s", id)
	}
	return code, nil
}

func (f *fakeMembershipStore) SetCustomerMembershipCode(_ context.Context, id, code string) error {
	if _, ok := f.customers[id]; !ok {
		return store.ErrNoMatch
	}
	f.customers[id] = code
	return nil
}

func TestCreateMembership(t *testing.T) {
	fs := newFakeMembershipStore()
	ms := NewMembershipService(fs)

	code, err := ms.CreateMembership(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, code)

	m := fs.memberships[code]
	require.NotNil(t, m)
	assert.True(t, m.Active)
	assert.Zero(t, m.Points)
	assert.Empty(t, m.PurchaseHistory)
}

func TestDeleteMembership(t *testing.T) {
	fs := newFakeMembershipStore()
	ms := NewMembershipService(fs)

	code, err := ms.CreateMembership(context.Background())
	require.NoError(t, err)

	ok, err := ms.DeleteMembership(context.Background(), code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ms.DeleteMembership(context.Background(), code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestActivateForCustomerWithExistingMembership(t *testing.T) {
	fs := newFakeMembershipStore()
	ms := NewMembershipService(fs)

	code, err := ms.CreateMembership(context.Background())
	require.NoError(t, err)
	fs.customers["c-1"] = code

	ok, err := ms.ActivateForCustomer(context.Background(), "c-1", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, fs.memberships[code].Active)

	ok, err = ms.ActivateForCustomer(context.Background(), "c-1", true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, fs.memberships[code].Active)
}

func TestActivateForCustomerCreatesAndLinks(t *testing.T) {
	fs := newFakeMembershipStore()
	fs.customers["c-1"] = ""
	ms := NewMembershipService(fs)

	ok, err := ms.ActivateForCustomer(context.Background(), "c-1", true)
	require.NoError(t, err)
	assert.True(t, ok)

	code := fs.customers["c-1"]
	require.NotEmpty(t, code)
	assert.True(t, fs.memberships[code].Active)
}

func TestDeactivateCustomerWithoutMembership(t *testing.T) {
	fs := newFakeMembershipStore()
	fs.customers["c-1"] = ""
	ms := NewMembershipService(fs)

	ok, err := ms.ActivateForCustomer(context.Background(), "c-1", false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, fs.memberships)
}
