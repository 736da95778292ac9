package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"crossledger/services/lending/engine"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{engine.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: bad address", engine.ErrInvalidArgument), http.StatusBadRequest},
		{engine.ErrInsufficientCollateral, http.StatusConflict},
		{engine.ErrConflict, http.StatusConflict},
		{engine.ErrPriceUnavailable, http.StatusServiceUnavailable},
		{engine.ErrPaused, http.StatusServiceUnavailable},
		{engine.ErrTransfer, http.StatusBadGateway},
		{engine.ErrUnauthorized, http.StatusForbidden},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{engine.ErrInternal, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := httpStatus(tc.err); got != tc.want {
			t.Fatalf("httpStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
