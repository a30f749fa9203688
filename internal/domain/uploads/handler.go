package uploads

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/validate"
)

type Handler struct {
	svc       *Service
	validator *validate.Validator
}

func NewHandler(svc *Service, v *validate.Validator) *Handler {
	return &Handler{svc: svc, validator: v}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/uploads", auth.RequireAuth())
	g.POST("", h.UploadFile)
	g.POST("/multiple", h.UploadFiles)
	g.DELETE("", h.DeleteFile)
	g.GET("/stats", h.Stats, auth.RequireRole(auth.RoleAdmin))
}

type deleteRequest struct {
	URL string `json:"url"`
}

func (h *Handler) UploadFile(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, ErrNoFile.Error())
	}
	u, closeFn, err := open(fh)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := c.Request().Context()
	f, err := h.svc.Save(ctx, auth.PrincipalFromContext(ctx), u, c.FormValue("category"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) UploadFiles(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, ErrNoFile.Error())
	}
	headers := form.File["files"]
	if len(headers) > MaxFiles {
		return httpError(ErrTooManyFiles)
	}

	files := make([]Upload, 0, len(headers))
	for _, fh := range headers {
		u, closeFn, err := open(fh)
		if err != nil {
			return err
		}
		defer closeFn()
		files = append(files, u)
	}

	var category string
	if v := form.Value["category"]; len(v) > 0 {
		category = v[0]
	}
	ctx := c.Request().Context()
	out, err := h.svc.SaveMany(ctx, auth.PrincipalFromContext(ctx), files, category)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) DeleteFile(c echo.Context) error {
	var req deleteRequest
	if err := h.validator.Bind(c, validate.UploadDelete, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.Delete(ctx, auth.PrincipalFromContext(ctx), req.URL); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "File deleted successfully"})
}

func (h *Handler) Stats(c echo.Context) error {
	st, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func open(fh *multipart.FileHeader) (Upload, func(), error) {
	src, err := fh.Open()
	if err != nil {
		return Upload{}, nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file").SetInternal(err)
	}
	return Upload{
		Name:     fh.Filename,
		MimeType: MediaType(fh.Header.Get(echo.HeaderContentType), fh.Filename),
		Size:     fh.Size,
		Content:  src,
	}, func() { src.Close() }, nil
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrUnsupportedType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, ErrTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrNoFile), errors.Is(err, ErrTooManyFiles), errors.Is(err, ErrInvalidPath):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}
