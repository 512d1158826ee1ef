// Package validation provides field validation for OAuth client configuration
package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		errMsg  string
	}{
		{
			name: "https url",
			raw:  "https://acme.example/authorize",
		},
		{
			name: "loopback with port",
			raw:  "http://localhost:8080/oauth/callback",
		},
		{
			name:    "missing scheme",
			raw:     "acme.example/token",
			wantErr: true,
			errMsg:  "absolute URL",
		},
		{
			name:    "relative path",
			raw:     "/token",
			wantErr: true,
			errMsg:  "absolute URL",
		},
		{
			name:    "unparseable",
			raw:     "http://[::1",
			wantErr: true,
			errMsg:  "valid URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("ValidateURL() error = %v, want error containing %q", err, tt.errMsg)
			}
		})
	}
}

func TestValidatorCollectsEveryViolation(t *testing.T) {
	var v Validator
	v.Required("name", "")
	v.Required("clientId", "  ")
	v.URL("authorizationUrl", "not a url")
	v.URL("tokenUrl", "")
	v.NonEmpty("scope", []string{"", " "})
	v.OptionalURL("redirectUri", "")

	err := v.Err()
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var verrs Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected Errors, got %T", err)
	}

	var fields []string
	for _, e := range verrs {
		fields = append(fields, e.Field)
	}
	want := []string{"name", "clientId", "authorizationUrl", "tokenUrl", "scope"}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Errorf("violated fields mismatch (-want +got):\n%s", diff)
	}
	if len(verrs.Messages()) != len(want) {
		t.Errorf("expected %d messages, got %d", len(want), len(verrs.Messages()))
	}
}

func TestValidatorValid(t *testing.T) {
	var v Validator
	v.Required("name", "acme")
	v.URL("tokenUrl", "https://acme.example/token")
	v.NonEmpty("scope", []string{"read"})
	v.Check(true, "anything", "never recorded")

	if !v.Valid() {
		t.Errorf("expected valid, got %v", v.Err())
	}
	if err := v.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}
