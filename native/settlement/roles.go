package settlement

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"offlinesettle/storage"
)

// Role is a capability assigned at deployment and managed by admins.
type Role string

const (
	RoleRelayer          Role = "relayer"
	RoleEscalationSigner Role = "escalation-signer"
	RoleAdmin            Role = "admin"
)

var ErrLastAdmin = errors.New("settlement: cannot revoke the last admin")

var rolePrefix = []byte("settle/role/")

// ParseRole normalises a role name.
func ParseRole(value string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleRelayer:
		return RoleRelayer, nil
	case RoleEscalationSigner:
		return RoleEscalationSigner, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("settlement: unknown role %q", value)
	}
}

// Authorizer answers capability checks. It is consulted by the public engine
// entry points only; transition logic never sees it.
type Authorizer interface {
	HasRole(id [20]byte, role Role) bool
}

// RoleManager is an Authorizer whose grants an admin can change.
type RoleManager interface {
	Authorizer
	Grant(admin [20]byte, role Role, id [20]byte) error
	Revoke(admin [20]byte, role Role, id [20]byte) error
}

// AllowAll grants every capability to every caller.
type AllowAll struct{}

func (AllowAll) HasRole([20]byte, Role) bool { return true }

// Roles is a settable capability mapping, optionally persisted.
type Roles struct {
	mu     sync.RWMutex
	grants map[Role]map[[20]byte]struct{}
	db     storage.Database
}

// NewRoles loads persisted grants from db. A nil db keeps grants in memory.
func NewRoles(db storage.Database) (*Roles, error) {
	r := &Roles{grants: make(map[Role]map[[20]byte]struct{}), db: db}
	if db == nil {
		return r, nil
	}
	err := db.Iterate(rolePrefix, func(key, _ []byte) bool {
		rest := key[len(rolePrefix):]
		if len(rest) < 21 || rest[len(rest)-21] != '/' {
			return true
		}
		role := Role(rest[:len(rest)-21])
		var id [20]byte
		copy(id[:], rest[len(rest)-20:])
		r.add(role, id)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("settlement: load roles: %w", err)
	}
	return r, nil
}

func roleKey(role Role, id [20]byte) []byte {
	return bytes.Join([][]byte{rolePrefix, []byte(role), []byte("/"), id[:]}, nil)
}

func (r *Roles) add(role Role, id [20]byte) {
	members, ok := r.grants[role]
	if !ok {
		members = make(map[[20]byte]struct{})
		r.grants[role] = members
	}
	members[id] = struct{}{}
}

func (r *Roles) HasRole(id [20]byte, role Role) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.grants[role][id]
	return ok
}

// Bootstrap assigns role to ids without an admin check. It is meant for
// deployment-time configuration.
func (r *Roles) Bootstrap(role Role, ids ...[20]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bootstrap(role, ids)
}

// Seed bootstraps role only while nobody holds it, so grants revoked at
// runtime are not restored from deployment configuration on restart. It
// reports whether ids were applied.
func (r *Roles) Seed(role Role, ids ...[20]byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(ids) == 0 || len(r.grants[role]) > 0 {
		return false, nil
	}
	if err := r.bootstrap(role, ids); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Roles) bootstrap(role Role, ids [][20]byte) error {
	batch := storage.NewBatch()
	for _, id := range ids {
		batch.Put(roleKey(role, id), []byte{1})
	}
	if err := r.persist(batch); err != nil {
		return err
	}
	for _, id := range ids {
		r.add(role, id)
	}
	return nil
}

// Grant assigns role to id on behalf of admin.
func (r *Roles) Grant(admin [20]byte, role Role, id [20]byte) error {
	if _, err := ParseRole(string(role)); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.grants[RoleAdmin][admin]; !ok {
		return ErrUnauthorized
	}
	batch := storage.NewBatch()
	batch.Put(roleKey(role, id), []byte{1})
	if err := r.persist(batch); err != nil {
		return err
	}
	r.add(role, id)
	return nil
}

// Revoke removes role from id on behalf of admin. The last admin cannot be
// revoked.
func (r *Roles) Revoke(admin [20]byte, role Role, id [20]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.grants[RoleAdmin][admin]; !ok {
		return ErrUnauthorized
	}
	members := r.grants[role]
	if _, ok := members[id]; !ok {
		return nil
	}
	if role == RoleAdmin && len(members) == 1 {
		return ErrLastAdmin
	}
	batch := storage.NewBatch()
	batch.Delete(roleKey(role, id))
	if err := r.persist(batch); err != nil {
		return err
	}
	delete(members, id)
	return nil
}

// Members lists the identities holding role in byte order.
func (r *Roles) Members(role Role) [][20]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([][20]byte, 0, len(r.grants[role]))
	for id := range r.grants[role] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (r *Roles) persist(batch *storage.Batch) error {
	if r.db == nil {
		return nil
	}
	return r.db.Write(batch)
}

// Grant assigns role to id through the engine's authorizer. Capability
// changes take the engine guard like every other mutation.
func (e *Engine) Grant(admin [20]byte, role Role, id [20]byte) error {
	release, err := e.guard.enter()
	if err != nil {
		return err
	}
	defer release()
	mgr, err := e.roleManager()
	if err != nil {
		return err
	}
	return mgr.Grant(admin, role, id)
}

// Revoke removes role from id through the engine's authorizer.
func (e *Engine) Revoke(admin [20]byte, role Role, id [20]byte) error {
	release, err := e.guard.enter()
	if err != nil {
		return err
	}
	defer release()
	mgr, err := e.roleManager()
	if err != nil {
		return err
	}
	return mgr.Revoke(admin, role, id)
}

func (e *Engine) roleManager() (RoleManager, error) {
	mgr, ok := e.auth.(RoleManager)
	if !ok {
		return nil, fmt.Errorf("%w: authorizer does not manage roles", ErrUnauthorized)
	}
	return mgr, nil
}
