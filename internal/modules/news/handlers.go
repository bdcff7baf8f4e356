package news

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	apperrors "github.com/Guillaume29200/esport-cms/internal/errors"
	"github.com/Guillaume29200/esport-cms/internal/httputil"
	"github.com/Guillaume29200/esport-cms/internal/identity"
)

type handlers struct {
	svc         *Service
	pageSize    int
	maxPageSize int
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", h.pageSize)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if limit > h.maxPageSize {
		limit = h.maxPageSize
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	items, total, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"articles": items,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func intParam(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperrors.Validation(key, "must be a non-negative integer")
	}
	return n, nil
}

func (h *handlers) read(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.From(r.Context())
	article, err := h.svc.Read(r.Context(), mux.Vars(r)["slug"], caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"article": article})
}

func (h *handlers) publish(w http.ResponseWriter, r *http.Request) {
	caller, _ := identity.From(r.Context())
	var in PublishInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	article, err := h.svc.Publish(r.Context(), in, caller.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{"article": article})
}

func (h *handlers) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrArticleNotFound):
		err = apperrors.NotFound("article", mux.Vars(r)["slug"]+mux.Vars(r)["id"])
	case errors.Is(err, ErrSlugTaken):
		err = apperrors.Conflict(err.Error(), err).WithDetails("field", "slug")
	case errors.Is(err, ErrAccessDenied):
		if _, ok := identity.From(r.Context()); !ok {
			err = apperrors.Unauthorized("Sign in to read premium articles")
		} else {
			err = apperrors.Forbidden(err.Error()).WithDetails("premium_required", true)
		}
	}
	httputil.WriteError(w, r, err)
}
