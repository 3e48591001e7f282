package echoapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-client/core"
)

// newAppHTTPErrorHandler returns an echo.HTTPErrorHandler answering the way Django REST framework does:
// {"detail": "..."} for plain errors and {"field": ["..."]} for validation errors.
func newAppHTTPErrorHandler(logger core.Logger) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var body interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				origErr = errNotAuthorized
			} else if origErr.Code == http.StatusUnauthorized && origErr.Internal != nil {
				// rejected by the jwt middleware
				origErr = errTokenInvalid
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			body = echo.Map{"detail": fmt.Sprint(origErr.Message)}
		case *core.ValidationError:
			code = http.StatusBadRequest
			if origErr.Fields != nil {
				fldErrs := make(map[string][]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = append(fldErrs[fErr.Field], fErr.Error)
				}
				body = fldErrs
			} else {
				body = echo.Map{"non_field_errors": []string{origErr.Error()}}
			}
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			body = echo.Map{"detail": msg}
			logger.Error(msg, errors.Wrap(err, msg))
		}

		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead {
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, body)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
