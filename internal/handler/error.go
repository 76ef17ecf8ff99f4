// Package handler exposes the HTTP API over the service layer.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/verdandi/shop/internal/domain"
)

// ErrorCodeToHTTPStatus maps a domain error code to an HTTP status.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EPAYMENT:
		return http.StatusPaymentRequired
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	case domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable
	case domain.ERECONCILE, domain.EINTERNAL:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody is the JSON error envelope returned by every endpoint.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine code and user-facing message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Shortfalls is set for stock-shortfall conflicts so clients can
	// show per-product availability.
	Shortfalls []ShortfallDetail `json:"shortfalls,omitempty"`
}

// ShortfallDetail is one product's availability gap.
type ShortfallDetail struct {
	ProductID string `json:"product_id"`
	Requested int32  `json:"requested"`
	Available int32  `json:"available"`
}

// HTTPErrorHandler translates domain errors into JSON responses. It is
// installed as the echo instance's error handler.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			status = http.StatusInternalServerError
			body   ErrorBody
		)

		switch {
		case isEchoError(err):
			he := err.(*echo.HTTPError)
			status = he.Code
			body.Error = ErrorDetail{
				Code:    domain.EINVALID,
				Message: http.StatusText(he.Code),
			}
			if msg, ok := he.Message.(string); ok {
				body.Error.Message = msg
			}
		default:
			code := domain.ErrorCode(err)
			status = ErrorCodeToHTTPStatus(code)
			body.Error = ErrorDetail{
				Code:    code,
				Message: domain.ErrorMessage(err),
			}
			if shortfall, ok := domain.IsStockShortfall(err); ok {
				for _, s := range shortfall.Shortfalls {
					body.Error.Shortfalls = append(body.Error.Shortfalls, ShortfallDetail{
						ProductID: s.ProductID.String(),
						Requested: s.Requested,
						Available: s.Available,
					})
				}
			}
		}

		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("path", c.Request().URL.Path).
				Int("status", status).
				Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("failed to write error response")
		}
	}
}

func isEchoError(err error) bool {
	_, ok := err.(*echo.HTTPError)
	return ok
}
