package echoapi

import (
	"fmt"
	"net/http"
	"net/mail"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/masomo-client/core"
	"github.com/trezcool/masomo-client/core/user"
	emailsvc "github.com/trezcool/masomo-client/services/email"
)

type accountsApi struct {
	srv *Server
}

func registerAccountsAPI(g *echo.Group, jwt echo.MiddlewareFunc, srv *Server) {
	api := accountsApi{srv: srv}

	// un-authed endpoints
	g.POST("/token/", api.obtainToken)
	g.POST("/token/refresh/", api.refreshToken)
	g.POST("/register/", api.register)
	g.GET("/validate/", api.validate)

	// authed endpoints
	g.GET("/check_user_info/:id/", api.userInfo, jwt, srv.accessMiddleware)
}

type (
	TokenRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	TokenResponse struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh,omitempty"`
	}

	RefreshRequest struct {
		Refresh string `json:"refresh"`
	}

	MessageResponse struct {
		Message string `json:"message"`
	}
)

func (api *accountsApi) obtainToken(ctx echo.Context) error {
	var data TokenRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TokenRequest")
	}
	form := user.LoginForm{Email: data.Email, Password: data.Password}
	if err := form.Validate(); err != nil {
		return err
	}

	acc, err := api.srv.data.accountByEmail(form.Email)
	if err != nil {
		if errors.Cause(err) == errNotFound {
			return errNoActiveAccount
		}
		return errors.Wrap(err, "finding account by email")
	}
	if bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(form.Password)) != nil || !acc.active {
		return errNoActiveAccount
	}

	resp, err := api.srv.issuePair(acc.profile.ID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (s *Server) issuePair(userID int) (TokenResponse, error) {
	access, err := s.generateToken(userID, tokenTypeAccess)
	if err != nil {
		return TokenResponse{}, errors.Wrap(err, "generating access token")
	}
	refresh, err := s.generateToken(userID, tokenTypeRefresh)
	if err != nil {
		return TokenResponse{}, errors.Wrap(err, "generating refresh token")
	}
	return TokenResponse{Access: access, Refresh: refresh}, nil
}

func (api *accountsApi) refreshToken(ctx echo.Context) error {
	var data RefreshRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RefreshRequest")
	}
	if data.Refresh == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "refresh", Error: "This field is required."})
	}

	claims, err := api.srv.parseRefreshToken(data.Refresh)
	if err != nil {
		return err
	}
	if acc, err := api.srv.data.account(claims.UserID); err != nil || !acc.active {
		return errRefreshInvalid
	}

	access, err := api.srv.generateToken(claims.UserID, tokenTypeAccess)
	if err != nil {
		return errors.Wrap(err, "generating access token")
	}
	api.srv.countRefresh()
	return ctx.JSON(http.StatusOK, TokenResponse{Access: access})
}

func (api *accountsApi) register(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	acc, err := api.srv.data.createAccount(data, !api.srv.opts.RequireVerification)
	if err != nil {
		if errors.Cause(err) == errEmailExists {
			return core.NewValidationError(nil, core.FieldError{Field: "email", Error: err.Error()})
		}
		return errors.Wrap(err, "creating account")
	}

	if api.srv.opts.RequireVerification {
		if err := api.srv.sendValidationCode(acc); err != nil {
			return errors.Wrap(err, "sending validation code")
		}
	}
	api.srv.opts.Logger.Info("account registered", acc.profile)
	return ctx.JSON(http.StatusCreated, acc.profile)
}

func (s *Server) sendValidationCode(acc account) error {
	code, err := s.makeValidationCode(acc)
	if err != nil {
		return err
	}
	s.data.setValidationCode(acc.profile.ID, code)

	return s.opts.Mailer.Send(emailsvc.Message{
		To:      []mail.Address{{Name: acc.profile.FullName(), Address: acc.profile.Email}},
		Subject: "Validate your e-mail address",
		TextContent: fmt.Sprintf("Hello %s,\r\n\r\nYour validation code is %s.\r\nRun: masomo verify -email %s -code %s",
			acc.profile.Name, code, acc.profile.Email, code),
	})
}

func (api *accountsApi) validate(ctx echo.Context) error {
	email, code := ctx.QueryParam("email"), ctx.QueryParam("code")
	if email == "" || code == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "code", Error: "Email and code are required"})
	}

	ok, err := api.srv.data.activate(email, code)
	if err != nil {
		if errors.Cause(err) == errNotFound {
			return echo.NewHTTPError(http.StatusBadRequest, "User with this email does not exist")
		}
		return errors.Wrap(err, "activating account")
	}
	if !ok {
		return core.NewValidationError(nil, core.FieldError{Field: "code", Error: "Invalid validation code"})
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: "Email confirmed"})
}

func (api *accountsApi) userInfo(ctx echo.Context) error {
	id, err := strconv.Atoi(ctx.Param("id"))
	if err != nil {
		return errHttpNotFound
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	caller, err := api.srv.data.account(claims.UserID)
	if err != nil {
		return errTokenInvalid
	}
	if id != caller.profile.ID && !caller.profile.IsStaff {
		return errHttpForbidden
	}

	acc, err := api.srv.data.account(id)
	if err != nil {
		return errHttpNotFound
	}
	return ctx.JSON(http.StatusOK, acc.profile)
}
