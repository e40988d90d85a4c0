package store

import (
	"errors"
	"strings"
	"testing"
)

func TestPersistError(t *testing.T) {
	cause := errors.New("disk full")

	tests := []struct {
		name string
		err  *PersistError
		want string
	}{
		{"item", &PersistError{ID: 42, Op: "upsert", Err: cause}, "persist upsert item 42: disk full"},
		{"run level", &PersistError{Op: "flush", Err: cause}, "persist flush: disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !errors.Is(tt.err, cause) {
				t.Error("errors.Is(err, cause) = false, want true")
			}
		})
	}
}

func TestPersistError_As(t *testing.T) {
	var err error = &PersistError{ID: 7, Op: "upsert", Err: ErrNotFound}

	var perr *PersistError
	if !errors.As(err, &perr) {
		t.Fatal("errors.As() = false, want true")
	}
	if perr.ID != 7 {
		t.Errorf("ID = %d, want 7", perr.ID)
	}
	if !strings.Contains(err.Error(), ErrNotFound.Error()) {
		t.Errorf("Error() = %q, want cause included", err.Error())
	}
}
