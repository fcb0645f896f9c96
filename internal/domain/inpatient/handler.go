package inpatient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/inpatient/internal/platform/auth"
	"github.com/ehr/inpatient/pkg/pagination"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, physician, nurse, billing
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "billing"))
	readGroup.GET("/inpatient-records", h.ListStays)
	readGroup.GET("/inpatient-records/:id", h.GetStay)
	readGroup.GET("/inpatient-records/:id/pending-obligations", h.GetPendingObligations)
	readGroup.GET("/inpatient-records/:id/leave-from", h.LeaveFromCandidates)
	readGroup.GET("/inpatient-records/:id/statement.xlsx", h.Statement)
	readGroup.GET("/inpatient-records/:id/encounter-details", h.EncounterDetails)
	readGroup.GET("/service-unit-types", h.ListServiceUnitTypes)
	readGroup.GET("/service-unit-types/:id", h.GetServiceUnitType)
	readGroup.GET("/service-units", h.ListServiceUnits)
	readGroup.GET("/service-units/:id", h.GetServiceUnit)
	readGroup.GET("/treatment-counsellings/:id", h.GetCounselling)

	// Clinical lifecycle – admin, physician, nurse
	careGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	careGroup.POST("/inpatient-records/schedule", h.Schedule)
	careGroup.POST("/inpatient-records/schedule-discharge", h.ScheduleDischarge)
	careGroup.POST("/inpatient-records/:id/admit", h.Admit)
	careGroup.POST("/inpatient-records/:id/transfer", h.Transfer)
	careGroup.POST("/inpatient-records/:id/discharge", h.Discharge)
	careGroup.POST("/inpatient-records/:id/cancel", h.Cancel)
	careGroup.GET("/inpatient-records/:id/discharge-summary", h.DischargeSummary)
	careGroup.POST("/treatment-counsellings/:id/amend", h.AmendCounselling)

	// Billing – admin, billing
	billingGroup := api.Group("", auth.RequireRole("admin", "billing"))
	billingGroup.POST("/inpatient-records/:id/billing/occupancy", h.ComputeOccupancyBilling)
	billingGroup.POST("/inpatient-records/:id/billing/rates", h.ApplyRates)
	billingGroup.POST("/inpatient-records/:id/items", h.AddItem)
	billingGroup.POST("/inpatient-records/:id/invoices", h.RecordInvoice)
	billingGroup.POST("/inpatient-records/:id/documents", h.RegisterDocument)

	// Reference data – admin only
	adminGroup := api.Group("", auth.RequireRole("admin"))
	adminGroup.POST("/service-unit-types", h.CreateServiceUnitType)
	adminGroup.POST("/service-units", h.CreateServiceUnit)
	adminGroup.POST("/service-units/reconcile", h.ReconcileUnits)
	adminGroup.POST("/treatment-plan-templates", h.CreateTreatmentPlanTemplate)
}

// -- Lifecycle Handlers --

func (h *Handler) Schedule(c echo.Context) error {
	var order AdmissionOrder
	if err := c.Bind(&order); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.Schedule(c.Request().Context(), &order)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ScheduleDischarge(c echo.Context) error {
	var order DischargeOrder
	if err := c.Bind(&order); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	stay, err := h.svc.ScheduleDischarge(c.Request().Context(), &order)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stay)
}

func (h *Handler) Admit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req AdmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	stay, err := h.svc.Admit(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stay)
}

func (h *Handler) Transfer(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req TransferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	stay, err := h.svc.Transfer(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stay)
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	stay, err := h.svc.Discharge(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stay)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req CancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	stay, err := h.svc.Cancel(c.Request().Context(), id, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stay)
}

func (h *Handler) GetStay(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	stay, err := h.svc.GetStay(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stay)
}

func (h *Handler) ListStays(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f StayFilter
	if p := c.QueryParam("patient_id"); p != "" {
		pid, err := uuid.Parse(p)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &pid
	}
	f.Status = c.QueryParam("status")
	items, total, err := h.svc.ListStays(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) LeaveFromCandidates(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	units, err := h.svc.LeaveFromCandidates(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, units)
}

// -- Billing Handlers --

func (h *Handler) GetPendingObligations(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pending, err := h.svc.GetPendingObligations(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pending)
}

func (h *Handler) ComputeOccupancyBilling(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	stay, err := h.svc.ComputeOccupancyBilling(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stay)
}

func (h *Handler) ApplyRates(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	stay, err := h.svc.ApplyRates(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stay)
}

func (h *Handler) AddItem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var it BillableLineItem
	if err := c.Bind(&it); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	stay, err := h.svc.AddItem(c.Request().Context(), id, &it)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, stay)
}

func (h *Handler) RecordInvoice(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var ev InvoiceEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	stay, err := h.svc.RecordInvoice(c.Request().Context(), id, ev)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stay)
}

func (h *Handler) RegisterDocument(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var d LedgerDocument
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RegisterDocument(c.Request().Context(), id, &d); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) Statement(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	data, err := h.svc.Statement(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="inpatient-record-%s.xlsx"`, id))
	return c.Blob(http.StatusOK, xlsxContentType, data)
}

func (h *Handler) EncounterDetails(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	details, err := h.svc.EncounterDetails(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, details)
}

func (h *Handler) DischargeSummary(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sum, err := h.svc.DischargeSummary(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

// -- Service Unit Handlers --

func (h *Handler) CreateServiceUnitType(c echo.Context) error {
	var t ServiceUnitType
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateServiceUnitType(c.Request().Context(), &t); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetServiceUnitType(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.GetServiceUnitType(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListServiceUnitTypes(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListServiceUnitTypes(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateServiceUnit(c echo.Context) error {
	var u ServiceUnit
	if err := c.Bind(&u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateServiceUnit(c.Request().Context(), &u); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) GetServiceUnit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	u, err := h.svc.GetServiceUnit(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) ListServiceUnits(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListServiceUnits(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ReconcileUnits(c echo.Context) error {
	report, err := h.svc.ReconcileUnits(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, report)
}

// -- Counselling Handlers --

func (h *Handler) CreateTreatmentPlanTemplate(c echo.Context) error {
	var t TreatmentPlanTemplate
	if err := c.Bind(&t); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateTreatmentPlanTemplate(c.Request().Context(), &t); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetCounselling(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	tc, err := h.svc.GetCounselling(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tc)
}

func (h *Handler) AmendCounselling(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var order AdmissionOrder
	if err := c.Bind(&order); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	tc, err := h.svc.AmendCounselling(c.Request().Context(), id, &order)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, tc)
}

// httpError maps domain errors onto HTTP statuses. Care and billing blocks
// carry the outstanding items in the body.
func httpError(err error) error {
	var (
		blocked     *BillingBlockedError
		incomplete  *IncompleteCareError
		duplicate   *DuplicateActiveStayError
		unavailable *UnitUnavailableError
		missing     *NotFoundError
		invalid     *ValidationError
		config      *ConfigurationError
	)
	switch {
	case errors.As(err, &blocked):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": blocked.Error(),
			"pending": blocked.Pending,
		})
	case errors.As(err, &incomplete):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]interface{}{
			"message": incomplete.Reason,
			"items":   incomplete.Items,
		})
	case errors.As(err, &duplicate):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message":             duplicate.Error(),
			"inpatient_record_id": duplicate.ExistingStayID,
		})
	case errors.As(err, &unavailable), errors.Is(err, ErrConcurrentUpdate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &missing):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &invalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &config):
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
