package apperr

import (
	"errors"

	"github.com/gin-gonic/gin"
)

// Body is the JSON error envelope.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Respond writes err as a JSON error. Errors outside the taxonomy become a
// generic 500 without leaking their text.
func Respond(c *gin.Context, err error) {
	_ = c.Error(err)
	var e *Error
	if !errors.As(err, &e) {
		c.AbortWithStatusJSON(KindInternal.HTTPStatus(), Body{Error: CodeInternal, Message: "internal server error"})
		return
	}
	c.AbortWithStatusJSON(e.Kind.HTTPStatus(), Body{Error: e.Code, Message: e.Message})
}
