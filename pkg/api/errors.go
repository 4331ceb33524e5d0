package api

import (
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/nexops/kernelengine/pkg/errs"
)

// mapErr maps a manager-layer error to an HTTP error response, mirroring
// the teacher's single central mapServiceError so every handler shares one
// Kind-to-status mapping instead of re-deriving it (§7 "HTTP/RPC layers map
// Kind to status codes once, centrally").
func mapErr(err error) *echo.HTTPError {
	if err == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}

	switch errs.KindOf(err) {
	case errs.KindNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errs.KindPermissionDenied:
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errs.KindAlreadyExists:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errs.KindInvalidArgument:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errs.KindQuotaExceeded:
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	case errs.KindFailedPrecondition:
		return echo.NewHTTPError(http.StatusPreconditionFailed, err.Error())
	case errs.KindUnavailable:
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errs.KindCorruptOffload:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error("unexpected internal error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
