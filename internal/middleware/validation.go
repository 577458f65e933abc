package middleware

import (
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	pkgvalidator "github.com/jwalitptl/clinic-api/pkg/validator"
)

// RegisterValidators installs the custom rules on gin's binding validator.
// Call once before serving.
func RegisterValidators() error {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		return pkgvalidator.Register(v)
	}
	return nil
}
