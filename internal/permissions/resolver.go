// Package permissions resolves which MCP tools and skills a user may use.
package permissions

import (
	"context"
	"fmt"
	"time"

	"github.com/deepserve/deepserve/internal/infra"
	"github.com/deepserve/deepserve/internal/observability"
	"github.com/deepserve/deepserve/pkg/models"
)

// Store is the read side the resolver needs from the repository.
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	ActiveToolNames(ctx context.Context) ([]string, error)
	ActiveSkillNames(ctx context.Context) ([]string, error)
	PermittedToolNames(ctx context.Context, roleIDs []int64, departmentID int64) ([]string, error)
	PermittedSkillNames(ctx context.Context, roleIDs []int64, departmentID int64) ([]string, error)
}

// Set is a set of permitted names.
type Set map[string]struct{}

// Contains reports membership.
func (s Set) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the members as a slice in arbitrary order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return names
}

func toSet(names []string) Set {
	s := make(Set, len(names))
	for _, name := range names {
		s[name] = struct{}{}
	}
	return s
}

type kind string

const (
	kindTools  kind = "tools"
	kindSkills kind = "skills"
)

type cacheKey struct {
	userID int64
	kind   kind
}

// Resolver computes per-user permitted tool and skill sets with a 5-minute
// cache. Repository failures degrade to the empty set: the turn proceeds
// with built-in tools only.
type Resolver struct {
	store  Store
	cache  *infra.LoadingCache[cacheKey, Set]
	logger *observability.Logger
}

// CacheTTL is how long resolved permission sets stay valid.
const CacheTTL = 5 * time.Minute

// NewResolver creates a resolver backed by store.
func NewResolver(store Store, logger *observability.Logger) *Resolver {
	return &Resolver{
		store:  store,
		cache:  infra.NewLoadingCache[cacheKey, Set](CacheTTL),
		logger: logger,
	}
}

// ResolveTools returns the MCP tool names the user may use. Admins see every
// active tool. Errors are logged and resolve to the empty set.
func (r *Resolver) ResolveTools(ctx context.Context, userID int64) Set {
	return r.resolve(ctx, userID, kindTools)
}

// ResolveSkills returns the skill names the user may use, with the same
// rules as tools.
func (r *Resolver) ResolveSkills(ctx context.Context, userID int64) Set {
	return r.resolve(ctx, userID, kindSkills)
}

func (r *Resolver) resolve(ctx context.Context, userID int64, k kind) Set {
	if userID == 0 {
		return Set{}
	}
	set, err := r.cache.Get(cacheKey{userID: userID, kind: k}, func(key cacheKey) (Set, error) {
		return r.load(ctx, key.userID, key.kind)
	})
	if err != nil {
		if r.logger != nil {
			r.logger.Warn(ctx, "permission resolution failed, using empty set",
				"user_id", fmt.Sprint(userID), "kind", string(k), "error", err)
		}
		return Set{}
	}
	return set
}

func (r *Resolver) load(ctx context.Context, userID int64, k kind) (Set, error) {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	var names []string
	if user.IsAdmin {
		switch k {
		case kindTools:
			names, err = r.store.ActiveToolNames(ctx)
		case kindSkills:
			names, err = r.store.ActiveSkillNames(ctx)
		}
	} else {
		switch k {
		case kindTools:
			names, err = r.store.PermittedToolNames(ctx, user.RoleIDs, user.DepartmentID)
		case kindSkills:
			names, err = r.store.PermittedSkillNames(ctx, user.RoleIDs, user.DepartmentID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("load %s permissions: %w", k, err)
	}
	return toSet(names), nil
}

// Invalidate drops the cached sets for one user.
func (r *Resolver) Invalidate(userID int64) {
	r.cache.Delete(cacheKey{userID: userID, kind: kindTools})
	r.cache.Delete(cacheKey{userID: userID, kind: kindSkills})
}

// InvalidateAll drops every cached set. Admin permission mutations call this
// since the affected user set is unknown.
func (r *Resolver) InvalidateAll() {
	r.cache.Clear()
}
