package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/inpatient/internal/platform/auth"
)

// AuditEntry records who touched which inpatient resource and how.
type AuditEntry struct {
	UserID       string
	UserRoles    []string
	TenantID     string
	ResourceType string
	ResourceID   string
	Operation    string
	Action       string // read, create, update
	IPAddress    string
	Path         string
	Method       string
	Timestamp    time.Time
	RequestID    string
	StatusCode   int
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every /api/v1 request after it completes. Lifecycle operations
// such as admit or discharge are logged at info; reads at debug. Entries are
// also handed to recorder when one is given.
func Audit(logger zerolog.Logger, recorder AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Path:       req.URL.Path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				StatusCode: c.Response().Status,
				Action:     methodToAction(req.Method),
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}
			ctx := req.Context()
			entry.UserID = auth.UserIDFromContext(ctx)
			entry.UserRoles = auth.RolesFromContext(ctx)
			entry.TenantID, _ = c.Get("tenant_id").(string)
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.ResourceType, entry.ResourceID, entry.Operation = parseResourcePath(req.URL.Path)

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			evt := logger.Debug()
			if entry.Action != "read" {
				evt = logger.Info()
			}
			evt.
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("tenant_id", entry.TenantID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource_type", entry.ResourceType).
				Str("resource_id", entry.ResourceID).
				Str("operation", entry.Operation).
				Str("action", entry.Action).
				Int("status", entry.StatusCode).
				Msg("inpatient_access")

			return err
		}
	}
}

func methodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch, http.MethodDelete:
		return "update"
	default:
		return "read"
	}
}

// parseResourcePath splits /api/v1/<resource>[/<id>[/<operation>]].
//
//	/api/v1/inpatient-records                  -> inpatient-records, "", ""
//	/api/v1/inpatient-records/<uuid>/admit     -> inpatient-records, <uuid>, admit
//	/api/v1/inpatient-records/schedule         -> inpatient-records, "", schedule
func parseResourcePath(path string) (resource, id, operation string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return "unknown", "", ""
	}
	resource = segments[0]
	rest := segments[1:]
	if len(rest) > 0 {
		if _, err := uuid.Parse(rest[0]); err == nil {
			id = rest[0]
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		operation = strings.Join(rest, "/")
	}
	return resource, id, operation
}
