package validate

import (
	"net/http"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=admin staff"`
}

type slotRequest struct {
	Date  string `json:"date" validate:"required,datestr"`
	Start string `json:"start" validate:"required,hhmm"`
}

func TestValidate_OK(t *testing.T) {
	v := New()
	if err := v.Validate(&loginRequest{Username: "ana", Password: "long-enough"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_ReportsJSONFieldNames(t *testing.T) {
	v := New()
	err := v.Validate(&loginRequest{Password: "short", Role: "root"})
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", httpErr.Code)
	}
	msg, _ := httpErr.Message.(string)
	for _, want := range []string{"username is required", "password must be at least 8", "role must be one of: admin, staff"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

func TestValidate_CustomTags(t *testing.T) {
	v := New()
	tests := []struct {
		name  string
		req   slotRequest
		valid bool
	}{
		{"valid", slotRequest{Date: "2024-06-10", Start: "09:30"}, true},
		{"midnight end", slotRequest{Date: "2024-06-10", Start: "24:00"}, true},
		{"bad hour", slotRequest{Date: "2024-06-10", Start: "25:00"}, false},
		{"bad minute", slotRequest{Date: "2024-06-10", Start: "09:61"}, false},
		{"no colon", slotRequest{Date: "2024-06-10", Start: "0930"}, false},
		{"bad date", slotRequest{Date: "10/06/2024", Start: "09:30"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(&tt.req)
			if (err == nil) != tt.valid {
				t.Errorf("valid=%v, got err %v", tt.valid, err)
			}
		})
	}
}
