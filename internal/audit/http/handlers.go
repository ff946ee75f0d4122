package audithttp

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aqarfund/aqar/internal/audit"
	"github.com/aqarfund/aqar/internal/platform/httpx"
	"github.com/aqarfund/aqar/internal/rbac"
	"github.com/aqarfund/aqar/internal/shared"
)

// LogService defines the business contract for audit reads.
type LogService interface {
	List(ctx context.Context, filters audit.Filters) (audit.Page, error)
	Export(ctx context.Context, filters audit.Filters) ([]audit.Entry, error)
}

// Handler serves the audit log and its CSV export.
type Handler struct {
	logger  *slog.Logger
	service LogService
	rbac    rbac.Middleware
	now     func() time.Time
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service LogService, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, now: time.Now}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filters, err := ParseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.fail(w, "list audit log", err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := ParseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.fail(w, "export audit log", err)
		return
	}
	var buf bytes.Buffer
	if err := audit.WriteCSV(&buf, entries); err != nil {
		h.fail(w, "encode csv", err)
		return
	}
	filename := "menu-audit-" + h.now().UTC().Format("20060102") + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

// ParseFilters reads audit filters from query parameters. Dates accept
// RFC3339 or YYYY-MM-DD; a bare "to" date covers the whole day.
func ParseFilters(r *http.Request) (audit.Filters, error) {
	q := r.URL.Query()
	fields := map[string]string{}
	var filters audit.Filters

	parseID := func(name string) *int64 {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			return nil
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			fields[name] = "must be a positive integer"
			return nil
		}
		return &id
	}
	parseInt := func(name string) int {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			return 0
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			fields[name] = "must be a positive integer"
			return 0
		}
		return n
	}
	parseTime := func(name string, endOfDay bool) time.Time {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			return time.Time{}
		}
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t
		}
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			fields[name] = "must be RFC3339 or YYYY-MM-DD"
			return time.Time{}
		}
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t
	}

	filters.RoleID = parseID("role_id")
	filters.MenuItemID = parseID("menu_item_id")
	filters.ActorUserID = parseID("actor_user_id")
	filters.Kind = strings.TrimSpace(q.Get("kind"))
	filters.From = parseTime("from", false)
	filters.To = parseTime("to", true)
	filters.Page = parseInt("page")
	filters.PageSize = parseInt("page_size")

	if len(fields) > 0 {
		return audit.Filters{}, &shared.ValidationError{Fields: fields}
	}
	if err := filters.Validate(); err != nil {
		return audit.Filters{}, err
	}
	return filters, nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !shared.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
