package validation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type request struct {
	Login string   `json:"login" validate:"required,min=3"`
	Role  string   `json:"role" validate:"omitempty,oneof=employee manager admin"`
	IDs   []string `json:"ids" validate:"required,min=1,dive,uuid"`
}

func TestValidateStruct(t *testing.T) {
	ok := request{Login: "ada", IDs: []string{"6f1c2a8e-4d3b-4f5a-9c7e-1b2d3e4f5a6b"}}
	require.NoError(t, ValidateStruct(ok))

	tests := []struct {
		name  string
		req   request
		field string
	}{
		{"short login", request{Login: "a", IDs: ok.IDs}, "Login"},
		{"unknown role", request{Login: "ada", Role: "root", IDs: ok.IDs}, "Role"},
		{"no ids", request{Login: "ada"}, "IDs"},
		{"not uuid", request{Login: "ada", IDs: []string{"green"}}, "IDs[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.req)
			require.ErrorIs(t, err, ErrInvalidRequest)
			require.Contains(t, err.Error(), "'"+tt.field+"'")
		})
	}
}
