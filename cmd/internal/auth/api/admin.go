package authapi

import (
	"errors"
	"net/http"
	"strconv"

	"gatehouse/cmd/identity"
)

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in identity.RegisterInput
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	p, err := h.principals.Register(r.Context(), in)
	if err != nil {
		h.writeIdentityError(w, r, "admin.register", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPrincipalResponse(p))
}

func (h *Handler) handleListPrincipals(w http.ResponseWriter, r *http.Request) {
	q, err := identity.ParseListQuery(r.URL.Query())
	if err != nil {
		h.writeIdentityError(w, r, "admin.list", err)
		return
	}

	page, total, err := h.principals.ListPrincipals(r.Context(), q)
	if err != nil {
		h.writeIdentityError(w, r, "admin.list", err)
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	w.Header().Set("Access-Control-Expose-Headers", "X-Total-Count")
	writeJSON(w, http.StatusOK, toSummaries(page))
}

func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.principals.ListRoles(r.Context())
	if err != nil {
		h.writeIdentityError(w, r, "admin.roles.list", err)
		return
	}
	writeJSON(w, http.StatusOK, toRoles(roles))
}

func (h *Handler) handleSetRoles(w http.ResponseWriter, r *http.Request) {
	var in identity.SetRolesInput
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if err := h.principals.SetPrincipalRoles(r.Context(), in); err != nil {
		h.writeIdentityError(w, r, "admin.roles.set", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeIdentityError(w http.ResponseWriter, r *http.Request, event string, err error) {
	var ce identity.ConflictError
	var oe identity.OpError
	switch {
	case errors.As(err, &ce):
		writeError(w, http.StatusConflict, ce.Code(), "already exists")
	case identity.IsInvalidInput(err):
		msg := "invalid input"
		if errors.As(err, &oe) && oe.Msg != "" {
			msg = oe.Msg
		}
		writeError(w, http.StatusBadRequest, "invalid_request", msg)
	case identity.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	default:
		h.log.ErrorContext(r.Context(), event+".fail", "err", err)
		writeServerError(w)
	}
}
