package hash

import (
	"errors"
	"strings"
	"testing"
)

func TestHash(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{name: "valid password", password: "SecurePass123!"},
		{name: "minimum length password", password: "Pass123!"},
		{name: "password too short", password: "short", wantErr: ErrPasswordTooShort},
		{name: "empty password", password: "", wantErr: ErrPasswordTooShort},
		{name: "password too long", password: strings.Repeat("a", MaxPasswordBytes+1), wantErr: ErrPasswordTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := Hash(tt.password)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Hash() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Hash() unexpected error = %v", err)
			}
			if hash == tt.password {
				t.Error("Hash() returned unhashed password")
			}
			if !strings.HasPrefix(hash, "$2a$12$") {
				t.Errorf("Hash() unexpected prefix: %s", hash[:7])
			}
		})
	}
}

func TestCompare(t *testing.T) {
	hashed, err := Hash("CorrectHorse1")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if err := Compare(hashed, "CorrectHorse1"); err != nil {
		t.Errorf("Compare() with correct password error = %v", err)
	}
	if err := Compare(hashed, "WrongHorse1"); !errors.Is(err, ErrMismatch) {
		t.Errorf("Compare() with wrong password error = %v, want ErrMismatch", err)
	}
}
