package rbac

import (
	"errors"
	"sort"
	"testing"
)

func TestRequireAdmin(t *testing.T) {
	admins := NewAdminSet([]int64{1001, 1002})
	tests := []struct {
		name    string
		set     *AdminSet
		actorID int64
		wantErr error
	}{
		{"admin", admins, 1001, nil},
		{"second admin", admins, 1002, nil},
		{"stranger", admins, 42, ErrNotAdmin},
		{"nil set", nil, 1001, ErrNotAdmin},
		{"empty set", NewAdminSet(nil), 1001, ErrNotAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := RequireAdmin(tt.set, tt.actorID); !errors.Is(err, tt.wantErr) {
				t.Errorf("RequireAdmin = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAdminSet_IDs(t *testing.T) {
	s := NewAdminSet([]int64{7, 3, 7})
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	ids := s.IDs()
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "3" || ids[1] != "7" {
		t.Errorf("IDs = %v", ids)
	}
	var nilSet *AdminSet
	if nilSet.Len() != 0 || nilSet.IDs() != nil {
		t.Error("nil set should be empty")
	}
}
