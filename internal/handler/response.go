// Package handler holds helpers shared by the HTTP handlers.
package handler

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jwalitptl/clinic-api/internal/middleware"
	"github.com/jwalitptl/clinic-api/internal/model"
	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
	pkgvalidator "github.com/jwalitptl/clinic-api/pkg/validator"
)

// Bind decodes the JSON body into obj and runs its binding rules.
func Bind(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return pkgvalidator.Translate(err)
		}
		return apperrors.NewBadRequest("invalid request body", err)
	}
	return nil
}

// UUIDParam parses the named path parameter.
func UUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperrors.NewBadRequest(fmt.Sprintf("invalid %s", name), err)
	}
	return id, nil
}

// UUIDQuery parses an optional query parameter. Missing yields uuid.Nil.
func UUIDQuery(c *gin.Context, name string) (uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.NewBadRequest(fmt.Sprintf("invalid %s", name), err)
	}
	return id, nil
}

// Caller returns the authenticated caller or an UNAUTHORIZED error.
func Caller(c *gin.Context) (model.Caller, error) {
	caller, ok := middleware.CallerFrom(c)
	if !ok {
		return model.Caller{}, apperrors.Unauthorized(nil)
	}
	return caller, nil
}
