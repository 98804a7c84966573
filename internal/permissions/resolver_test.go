package permissions

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/deepserve/deepserve/pkg/models"
)

type fakeStore struct {
	users       map[int64]*models.User
	activeTools []string
	permitted   []string
	err         error
	loadCalls   int
}

func (f *fakeStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	user, ok := f.users[id]
	if !ok {
		return nil, errors.New("no such user")
	}
	return user, nil
}

func (f *fakeStore) ActiveToolNames(context.Context) ([]string, error) {
	f.loadCalls++
	return f.activeTools, f.err
}

func (f *fakeStore) ActiveSkillNames(context.Context) ([]string, error) {
	return f.activeTools, f.err
}

func (f *fakeStore) PermittedToolNames(_ context.Context, _ []int64, _ int64) ([]string, error) {
	f.loadCalls++
	return f.permitted, f.err
}

func (f *fakeStore) PermittedSkillNames(_ context.Context, roleIDs []int64, deptID int64) ([]string, error) {
	return f.PermittedToolNames(context.Background(), roleIDs, deptID)
}

func TestResolveToolsAdminBypass(t *testing.T) {
	store := &fakeStore{
		users:       map[int64]*models.User{1: {ID: 1, IsAdmin: true}},
		activeTools: []string{"tool_x", "tool_y"},
		permitted:   []string{"tool_x"},
	}
	r := NewResolver(store, nil)

	set := r.ResolveTools(context.Background(), 1)
	got := set.Names()
	sort.Strings(got)
	if !reflect.DeepEqual(got, []string{"tool_x", "tool_y"}) {
		t.Fatalf("admin set = %v", got)
	}
}

func TestResolveToolsRoleUnion(t *testing.T) {
	store := &fakeStore{
		users:     map[int64]*models.User{2: {ID: 2, RoleIDs: []int64{10}, DepartmentID: 3}},
		permitted: []string{"tool_x"},
	}
	r := NewResolver(store, nil)

	set := r.ResolveTools(context.Background(), 2)
	if !set.Contains("tool_x") || set.Contains("tool_y") {
		t.Fatalf("set = %v", set.Names())
	}
}

func TestResolveToolsFailureIsEmptySet(t *testing.T) {
	r := NewResolver(&fakeStore{err: errors.New("db down")}, nil)
	set := r.ResolveTools(context.Background(), 5)
	if len(set) != 0 {
		t.Fatalf("set on failure = %v, want empty", set.Names())
	}
}

func TestResolveCachesAndInvalidates(t *testing.T) {
	store := &fakeStore{
		users:     map[int64]*models.User{2: {ID: 2, RoleIDs: []int64{10}}},
		permitted: []string{"tool_x"},
	}
	r := NewResolver(store, nil)

	r.ResolveTools(context.Background(), 2)
	r.ResolveTools(context.Background(), 2)
	if store.loadCalls != 1 {
		t.Fatalf("loadCalls = %d, want 1 (cached)", store.loadCalls)
	}

	r.Invalidate(2)
	r.ResolveTools(context.Background(), 2)
	if store.loadCalls != 2 {
		t.Fatalf("loadCalls after invalidate = %d, want 2", store.loadCalls)
	}
}

func TestIntersect(t *testing.T) {
	permitted := toSet([]string{"tool_x", "tool_z"})

	tests := []struct {
		name      string
		selection Selection
		want      []string
	}{
		{"auto keeps permitted", Auto, []string{"tool_x", "tool_z"}},
		{"whitelist drops unpermitted", Explicit("tool_x", "tool_y"), []string{"tool_x"}},
		{"empty whitelist", Explicit(), []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Intersect(permitted, tt.selection).Names()
			sort.Strings(got)
			if len(got) != len(tt.want) {
				t.Fatalf("Intersect = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Intersect = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestSelectionUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Selection
		wantErr bool
	}{
		{"auto string", `"auto"`, Auto, false},
		{"null", `null`, Auto, false},
		{"name list", `["a","b"]`, Explicit("a", "b"), false},
		{"unknown mode", `"all"`, Selection{}, true},
		{"wrong type", `42`, Selection{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Selection
			err := s.UnmarshalJSON([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !reflect.DeepEqual(s, tt.want) {
				t.Fatalf("selection = %+v, want %+v", s, tt.want)
			}
		})
	}
}
