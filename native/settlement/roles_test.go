package settlement

import (
	"context"
	"testing"

	"github.com/holiman/uint256"

	"github.com/stretchr/testify/require"

	"offlinesettle/storage"
)

func TestRolesGrantAndRevoke(t *testing.T) {
	db := storage.NewMemDB()
	roles, err := NewRoles(db)
	require.NoError(t, err)
	admin := newTestAddress(0x01)
	relayer := newTestAddress(0x02)
	require.NoError(t, roles.Bootstrap(RoleAdmin, admin))

	require.ErrorIs(t, roles.Grant(relayer, RoleRelayer, relayer), ErrUnauthorized)
	require.NoError(t, roles.Grant(admin, RoleRelayer, relayer))
	require.True(t, roles.HasRole(relayer, RoleRelayer))
	require.False(t, roles.HasRole(relayer, RoleEscalationSigner))
	require.Error(t, roles.Grant(admin, Role("auditor"), relayer))

	require.ErrorIs(t, roles.Revoke(relayer, RoleRelayer, relayer), ErrUnauthorized)
	require.NoError(t, roles.Revoke(admin, RoleRelayer, relayer))
	require.False(t, roles.HasRole(relayer, RoleRelayer))
	require.NoError(t, roles.Revoke(admin, RoleRelayer, relayer))
}

func TestRolesKeepLastAdmin(t *testing.T) {
	roles, err := NewRoles(nil)
	require.NoError(t, err)
	first, second := newTestAddress(0x01), newTestAddress(0x02)
	require.NoError(t, roles.Bootstrap(RoleAdmin, first))

	require.ErrorIs(t, roles.Revoke(first, RoleAdmin, first), ErrLastAdmin)
	require.NoError(t, roles.Grant(first, RoleAdmin, second))
	require.NoError(t, roles.Revoke(second, RoleAdmin, first))
	require.Equal(t, [][20]byte{second}, roles.Members(RoleAdmin))
}

func TestRolesReloadFromDatabase(t *testing.T) {
	db := storage.NewMemDB()
	roles, err := NewRoles(db)
	require.NoError(t, err)
	admin := newTestAddress(0x01)
	require.NoError(t, roles.Bootstrap(RoleAdmin, admin))
	require.NoError(t, roles.Bootstrap(RoleEscalationSigner, newTestAddress(0x53), newTestAddress(0x51)))
	require.NoError(t, roles.Grant(admin, RoleRelayer, newTestAddress(0x33)))
	require.NoError(t, roles.Revoke(admin, RoleEscalationSigner, newTestAddress(0x53)))

	reloaded, err := NewRoles(db)
	require.NoError(t, err)
	require.True(t, reloaded.HasRole(admin, RoleAdmin))
	require.True(t, reloaded.HasRole(newTestAddress(0x33), RoleRelayer))
	require.Equal(t, [][20]byte{newTestAddress(0x51)}, reloaded.Members(RoleEscalationSigner))
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" Escalation-Signer ")
	require.NoError(t, err)
	require.Equal(t, RoleEscalationSigner, role)
	_, err = ParseRole("root")
	require.Error(t, err)

	var nilRoles *Roles
	require.False(t, nilRoles.HasRole(newTestAddress(1), RoleAdmin))
	require.True(t, AllowAll{}.HasRole(newTestAddress(1), RoleAdmin))
}

func TestRolesSeedOnlyWhileUnheld(t *testing.T) {
	db := storage.NewMemDB()
	roles, err := NewRoles(db)
	require.NoError(t, err)
	admin, relayer := newTestAddress(0x01), newTestAddress(0x02)

	seeded, err := roles.Seed(RoleAdmin, admin)
	require.NoError(t, err)
	require.True(t, seeded)
	seeded, err = roles.Seed(RoleRelayer, relayer)
	require.NoError(t, err)
	require.True(t, seeded)
	require.NoError(t, roles.Revoke(admin, RoleRelayer, relayer))

	// A restart with the same configuration keeps the runtime revocation.
	reloaded, err := NewRoles(db)
	require.NoError(t, err)
	seeded, err = reloaded.Seed(RoleAdmin, admin)
	require.NoError(t, err)
	require.False(t, seeded)
	seeded, err = reloaded.Seed(RoleRelayer, relayer)
	require.NoError(t, err)
	require.True(t, seeded, "an emptied role is seeded again")

	require.NoError(t, reloaded.Grant(admin, RoleEscalationSigner, newTestAddress(0x51)))
	require.NoError(t, reloaded.Revoke(admin, RoleEscalationSigner, newTestAddress(0x51)))
	seeded, err = reloaded.Seed(RoleEscalationSigner)
	require.NoError(t, err)
	require.False(t, seeded)
}

func TestEngineRoleChangesTakeGuard(t *testing.T) {
	f := newFixture(t)
	f.fund(f.sender, 10)
	candidate := newTestAddress(0x77)

	var grantErr, revokeErr error
	f.engine.SetPayout(PayoutFunc(func(context.Context, [20]byte, [20]byte, *uint256.Int) error {
		grantErr = f.engine.Grant(f.admin, RoleRelayer, candidate)
		revokeErr = f.engine.Revoke(f.admin, RoleRelayer, f.relayer)
		return nil
	}))
	_, err := f.engine.Withdraw(context.Background(), f.sender, newTestAddress(0x66), uint256.NewInt(5))
	require.NoError(t, err)
	require.ErrorIs(t, grantErr, ErrReentrantCall)
	require.ErrorIs(t, revokeErr, ErrReentrantCall)
	require.False(t, f.roles.HasRole(candidate, RoleRelayer))
	require.True(t, f.roles.HasRole(f.relayer, RoleRelayer))

	require.NoError(t, f.engine.Grant(f.admin, RoleRelayer, candidate))
	require.True(t, f.roles.HasRole(candidate, RoleRelayer))
	require.ErrorIs(t, f.engine.Grant(candidate, RoleAdmin, candidate), ErrUnauthorized)
	require.NoError(t, f.engine.Revoke(f.admin, RoleRelayer, candidate))
	require.False(t, f.roles.HasRole(candidate, RoleRelayer))

	f.engine.SetAuthorizer(AllowAll{})
	require.ErrorIs(t, f.engine.Grant(f.admin, RoleRelayer, candidate), ErrUnauthorized)
	require.False(t, f.engine.guard.held())
}
