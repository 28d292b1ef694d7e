package validation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/marketplace-orderflow/internal/apperr"
)

// FieldsBody is the 400 response for a request that failed validation.
type FieldsBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// BindAndValidate binds the JSON body into out and runs validation.
// On failure it writes a 400 and returns the error so the handler can stop.
func BindAndValidate(c *gin.Context, out any, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, FieldsBody{
			Error:   apperr.CodeValidation,
			Message: "invalid request body: " + err.Error(),
		})
		return err
	}
	if err := v.Struct(out); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, FieldsBody{
			Error:   apperr.CodeValidation,
			Message: "request validation failed",
			Fields:  validationErrorsToMap(err),
		})
		return err
	}
	return nil
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		out["error"] = err.Error()
		return out
	}
	for _, fe := range ve {
		out[fe.Namespace()] = fe.Tag()
	}
	return out
}
