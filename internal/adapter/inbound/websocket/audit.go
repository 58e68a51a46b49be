package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/belv2c/kubinaut/internal/domain/model"
	"github.com/belv2c/kubinaut/internal/domain/port/outbound"
	"github.com/belv2c/kubinaut/pkg/apierror"
)

const maxAuditPageSize = 200

type auditPage struct {
	Items      []model.AuditLog `json:"items"`
	TotalCount int64            `json:"total_count"`
	Page       int              `json:"page"`
	Size       int              `json:"size"`
}

// AuditHandler serves the command audit trail, newest first by default.
// Query parameters: session_id, namespace, event_type, since and until
// (RFC 3339), page, size, order_by and asc.
func AuditHandler(repo outbound.AuditRepository, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		filter, page, err := parseAuditQuery(r.URL.Query())
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, apierror.Message(err))
			return
		}

		result, err := repo.List(r.Context(), filter, page)
		if err != nil {
			if apierror.Is(err, apierror.KindDecode) {
				writeJSONError(w, http.StatusBadRequest, apierror.Message(err))
				return
			}
			logger.Error("listing audit logs failed", "error", err)
			writeJSONError(w, http.StatusInternalServerError, "audit log unavailable")
			return
		}

		items := result.Items
		if items == nil {
			items = []model.AuditLog{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(auditPage{
			Items:      items,
			TotalCount: result.TotalCount,
			Page:       result.Page,
			Size:       result.Size,
		})
	}
}

func parseAuditQuery(q url.Values) (outbound.AuditFilter, outbound.PageRequest, error) {
	filter := outbound.AuditFilter{
		SessionID: q.Get("session_id"),
		Namespace: q.Get("namespace"),
		EventType: model.AuditEventType(q.Get("event_type")),
	}
	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{{"since", &filter.Since}, {"until", &filter.Until}} {
		v := q.Get(bound.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, outbound.PageRequest{}, apierror.Decode(fmt.Sprintf("%s must be an RFC 3339 timestamp", bound.name))
		}
		*bound.dst = &t
	}

	page := outbound.PageRequest{OrderBy: q.Get("order_by"), Desc: q.Get("asc") != "true"}
	var err error
	if page.Page, err = intParam(q, "page", 0); err != nil {
		return filter, page, err
	}
	if page.Size, err = intParam(q, "size", 50); err != nil {
		return filter, page, err
	}
	if page.Size == 0 || page.Size > maxAuditPageSize {
		return filter, page, apierror.Decode(fmt.Sprintf("size must be between 1 and %d", maxAuditPageSize))
	}
	return filter, page, nil
}

func intParam(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apierror.Decode(fmt.Sprintf("%s must be a non-negative integer", name))
	}
	return n, nil
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "message": message})
}
