package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

func TestExtractTenantID(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		header string
		jwt    string
		want   string
	}{
		{"jwt claim wins", "/?tenant_id=from_query", "from_header", "st_marys", "st_marys"},
		{"header over query", "/?tenant_id=from_query", "from_header", "", "from_header"},
		{"query parameter", "/?tenant_id=city_general", "", "", "city_general"},
		{"falls back to default", "/", "", "", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("X-Tenant-ID", tt.header)
			}
			c := echo.New().NewContext(req, httptest.NewRecorder())
			c.Set("jwt_tenant_id", tt.jwt)

			if got := extractTenantID(c, "default"); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestTenantMiddleware_RejectsInvalidTenant(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/inpatient-records", nil)
	req.Header.Set("X-Tenant-ID", "ward-7; DROP SCHEMA")
	c := echo.New().NewContext(req, httptest.NewRecorder())

	called := false
	err := TenantMiddleware(nil, "default")(func(echo.Context) error {
		called = true
		return nil
	})(c)

	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if called {
		t.Error("expected the handler not to run")
	}
}

func TestSchemaFor(t *testing.T) {
	if got := SchemaFor("st_marys"); got != "tenant_st_marys" {
		t.Errorf("expected tenant_st_marys, got %s", got)
	}
}

func TestTenantEntryPoints_RejectInvalidIDs(t *testing.T) {
	for _, id := range []string{"", "a-b", "ward.7", "ten ant", "drop;table"} {
		if _, err := CreateTenantSchema(context.Background(), nil, id, nil); err == nil {
			t.Errorf("CreateTenantSchema(%q): expected error", id)
		}
		called := false
		err := WithTenant(context.Background(), nil, id, func(context.Context) error {
			called = true
			return nil
		})
		if err == nil || called {
			t.Errorf("WithTenant(%q): expected error without running fn", id)
		}
	}
}

func TestConnFromContext_Empty(t *testing.T) {
	if ConnFromContext(context.Background()) != nil {
		t.Error("expected nil conn from empty context")
	}
	if TxFromContext(context.Background()) != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestRunInTx_NoConnection(t *testing.T) {
	called := false
	err := RunInTx(context.Background(), nil, func(context.Context) error {
		called = true
		return nil
	})
	if err == nil || err.Error() != "no database connection in context" {
		t.Errorf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected fn not to run")
	}
}

func TestErrorClassification(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "inpatient_record_one_active_per_patient"}
	if !IsUniqueViolation(unique, "") || !IsUniqueViolation(unique, "inpatient_record_one_active_per_patient") {
		t.Error("expected unique violation")
	}
	if IsUniqueViolation(unique, "inpatient_occupancy_one_live_per_unit") {
		t.Error("expected constraint mismatch to be rejected")
	}
	if IsUniqueViolation(errors.New("boom"), "") {
		t.Error("expected plain error not to be a unique violation")
	}

	for _, code := range []string{"40001", "40P01"} {
		if !IsRetryable(&pgconn.PgError{Code: code}) {
			t.Errorf("expected %s to be retryable", code)
		}
	}
	if IsRetryable(unique) {
		t.Error("expected unique violation not to be retryable")
	}
}
