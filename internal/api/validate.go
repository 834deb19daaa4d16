package api

import (
	"net/http"
	"strconv"

	apperrors "github.com/rmedgar/nekowat/pkg/errors"
)

// userIDHeader carries the end-user identity resolved by the chat transport.
const userIDHeader = "X-User-ID"

func requestUserID(r *http.Request) (int64, error) {
	raw := r.Header.Get(userIDHeader)
	if raw == "" {
		return 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "X-User-ID header is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "X-User-ID must be a non-zero integer")
	}
	return id, nil
}

func pathInt64(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%s must be an integer", name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "%s must be a positive integer", name)
	}
	return n, nil
}
