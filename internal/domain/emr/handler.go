package emr

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/validate"
	"github.com/telemed/telemed/pkg/pagination"
)

type Handler struct {
	svc       *Service
	validator *validate.Validator
}

func NewHandler(svc *Service, v *validate.Validator) *Handler {
	return &Handler{svc: svc, validator: v}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/emr")
	doctor := auth.RequireRole(auth.RoleDoctor)
	staff := auth.RequireRole(auth.RoleAdmin, auth.RoleDoctor)
	authed := auth.RequireAuth()

	// Medical records
	g.POST("/records", h.CreateRecord, doctor)
	g.GET("/records", h.ListRecords, staff)
	g.GET("/records/my-patients", h.ListMyPatientsRecords, doctor)
	g.GET("/records/my-records", h.ListMyRecords, authed)
	g.GET("/records/:id", h.GetRecord, authed)
	g.GET("/records/:id/pdf", h.DownloadRecordPDF, authed)
	g.PUT("/records/:id", h.UpdateRecord, doctor)
	g.DELETE("/records/:id", h.DeleteRecord, staff)

	// Prescriptions
	g.POST("/prescriptions", h.CreatePrescription, doctor)
	g.GET("/prescriptions", h.ListPrescriptions, staff)
	g.GET("/prescriptions/my-prescriptions", h.ListMyPrescriptions, authed)
	g.GET("/prescriptions/:id", h.GetPrescription, authed)
	g.GET("/prescriptions/:id/pdf", h.DownloadPrescriptionPDF, authed)
	g.PUT("/prescriptions/:id", h.UpdatePrescription, doctor)
	g.PUT("/prescriptions/:id/status", h.UpdatePrescriptionStatus, staff)
	g.DELETE("/prescriptions/:id", h.DeletePrescription, staff)

	// Patient history
	g.GET("/patients/:patientId/history", h.GetPatientHistory, staff)
	g.GET("/patients/:patientId/summary", h.GetPatientSummary, staff)
	g.GET("/my-history", h.GetMyHistory, authed)
	g.GET("/my-summary", h.GetMySummary, authed)
}

// -- Medical Record Handlers --

func (h *Handler) CreateRecord(c echo.Context) error {
	var req RecordRequest
	if err := h.validator.Bind(c, validate.MedicalRecord, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	r, err := h.svc.CreateRecord(ctx, auth.PrincipalFromContext(ctx), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) ListRecords(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := RecordFilter{Type: c.QueryParam("type")}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	return h.listRecords(c, f, pg)
}

func (h *Handler) ListMyPatientsRecords(c echo.Context) error {
	id := auth.UserIDFromContext(c.Request().Context())
	return h.listRecords(c, RecordFilter{DoctorID: &id, Type: c.QueryParam("type")}, pagination.FromContext(c))
}

func (h *Handler) ListMyRecords(c echo.Context) error {
	id := auth.UserIDFromContext(c.Request().Context())
	return h.listRecords(c, RecordFilter{PatientID: &id, Type: c.QueryParam("type")}, pagination.FromContext(c))
}

func (h *Handler) listRecords(c echo.Context, f RecordFilter, pg pagination.Params) error {
	items, total, err := h.svc.ListRecords(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*MedicalRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	r, err := h.svc.GetRecord(ctx, auth.PrincipalFromContext(ctx), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DownloadRecordPDF(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	data, r, err := h.svc.RecordPDF(ctx, auth.PrincipalFromContext(ctx), id)
	if err != nil {
		return httpError(err)
	}
	return sendPDF(c, "medical-record-"+r.ID.String()+".pdf", data)
}

func (h *Handler) UpdateRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var upd RecordUpdate
	if err := h.validator.Bind(c, validate.MedicalRecordUpdate, &upd); err != nil {
		return err
	}
	ctx := c.Request().Context()
	r, err := h.svc.UpdateRecord(ctx, auth.PrincipalFromContext(ctx), id, &upd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if err := h.svc.DeleteRecord(ctx, auth.PrincipalFromContext(ctx), id); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Medical record deleted successfully"})
}

// -- Prescription Handlers --

func (h *Handler) CreatePrescription(c echo.Context) error {
	var req PrescriptionRequest
	if err := h.validator.Bind(c, validate.Prescription, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	rx, err := h.svc.CreatePrescription(ctx, auth.PrincipalFromContext(ctx), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rx)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := PrescriptionFilter{Status: c.QueryParam("status")}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	items, total, err := h.svc.ListPrescriptions(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(nonNilRx(items), total, pg.Limit, pg.Offset))
}

func (h *Handler) ListMyPrescriptions(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()
	items, total, err := h.svc.MyPrescriptions(ctx, auth.PrincipalFromContext(ctx), c.QueryParam("status"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(nonNilRx(items), total, pg.Limit, pg.Offset))
}

func (h *Handler) GetPrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	rx, err := h.svc.GetPrescription(ctx, auth.PrincipalFromContext(ctx), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) DownloadPrescriptionPDF(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	data, rx, err := h.svc.PrescriptionPDF(ctx, auth.PrincipalFromContext(ctx), id)
	if err != nil {
		return httpError(err)
	}
	return sendPDF(c, "prescription-"+rx.PrescriptionNumber+".pdf", data)
}

func (h *Handler) UpdatePrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var upd PrescriptionUpdate
	if err := h.validator.Bind(c, validate.PrescriptionUpdate, &upd); err != nil {
		return err
	}
	ctx := c.Request().Context()
	rx, err := h.svc.UpdatePrescription(ctx, auth.PrincipalFromContext(ctx), id, &upd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) UpdatePrescriptionStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req StatusRequest
	if err := h.validator.Bind(c, validate.PrescriptionStatus, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	rx, err := h.svc.UpdatePrescriptionStatus(ctx, auth.PrincipalFromContext(ctx), id, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) DeletePrescription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	if err := h.svc.DeletePrescription(ctx, auth.PrincipalFromContext(ctx), id); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Prescription deleted successfully"})
}

// -- History Handlers --

func (h *Handler) GetPatientHistory(c echo.Context) error {
	id, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	hist, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, hist)
}

func (h *Handler) GetPatientSummary(c echo.Context) error {
	id, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}
	sum, err := h.svc.Summary(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) GetMyHistory(c echo.Context) error {
	ctx := c.Request().Context()
	hist, err := h.svc.History(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, hist)
}

func (h *Handler) GetMySummary(c echo.Context) error {
	ctx := c.Request().Context()
	sum, err := h.svc.Summary(ctx, auth.UserIDFromContext(ctx))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

func sendPDF(c echo.Context, filename string, data []byte) error {
	hdr := c.Response().Header()
	hdr.Set(echo.HeaderContentDisposition, "attachment; filename="+filename)
	hdr.Set(echo.HeaderContentLength, strconv.Itoa(len(data)))
	return c.Blob(http.StatusOK, "application/pdf", data)
}

func nonNilRx(items []*Prescription) []*Prescription {
	if items == nil {
		return []*Prescription{}
	}
	return items
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrRecordNotFound), errors.Is(err, ErrPrescriptionNotFound), errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrDuplicateNumber):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
