package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/simonbegg/todo/domain"
)

// passwordCost is a variable so tests can use the minimum cost.
var passwordCost = bcrypt.DefaultCost

type signUpResponse struct {
	UserID string `json:"userId"`
}

type signInResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func signUp(accounts AccountStore, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var creds domain.Credentials
		if err := decodeBody(c, &creds); err != nil {
			metricsFrom(c).SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := creds.Normalize(); err != nil {
			return fail(c, "validate", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), passwordCost)
		if err != nil {
			return fail(c, "hash", err)
		}
		user, err := accounts.CreateUser(c.Request().Context(), creds.Email, hash)
		if err != nil {
			return fail(c, "storage", err)
		}
		logger.WithField("user_id", user.ID).Info("user signed up")
		return c.JSON(http.StatusCreated, signUpResponse{UserID: user.ID})
	}
}

func signIn(accounts AccountStore, issuer TokenIssuer, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var creds domain.Credentials
		if err := decodeBody(c, &creds); err != nil {
			metricsFrom(c).SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := creds.Normalize(); err != nil {
			return fail(c, "validate", domain.ErrBadCredentials)
		}
		user, err := accounts.UserByEmail(c.Request().Context(), creds.Email)
		if err != nil {
			return fail(c, "lookup", err)
		}
		if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)); err != nil {
			if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				logger.WithError(err).WithField("user_id", user.ID).Warn("unreadable password hash")
			}
			return fail(c, "password", domain.ErrBadCredentials)
		}
		token, expires, err := issuer.IssueToken(user.ID)
		if err != nil {
			return fail(c, "issue", err)
		}
		return c.JSON(http.StatusOK, signInResponse{Token: token, UserID: user.ID, ExpiresAt: expires})
	}
}
