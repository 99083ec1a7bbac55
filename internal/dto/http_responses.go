package dto

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
)

const (
	FieldBadFormat     = "FIELD_BADFORMAT"
	FieldIncorrect     = "FIELD_INCORRECT"
	ServiceUnavailable = "SERVICE_UNAVAILABLE"
	InternalError      = "Service is currently unavailable. Please try again later."

	Unauthorized       = "UNAUTHORIZED"
	Forbidden          = "FORBIDDEN"
	InvalidCredentials = "INVALID_CREDENTIALS"
	InvalidSignature   = "INVALID_SIGNATURE"
	NotFound           = "NOT_FOUND"
	Conflict           = "CONFLICT"
	SoldOut            = "SOLD_OUT"
	EventStarted       = "EVENT_STARTED"
	BookingStateChange = "BOOKING_STATE_CHANGED"
	PaymentUnavailable = "PAYMENT_UNAVAILABLE"
)

type Response struct {
	Status string `json:"status"`
	Error  *Error `json:"error,omitempty"`
	Data   any    `json:"data,omitempty"`
}

type Error struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func ErrorResponse(c *ginext.Context, status int, code, desc string) {
	c.AbortWithStatusJSON(status, Response{
		Status: "error",
		Error: &Error{
			Code: code,
			Desc: desc,
		},
	})
}

func BadResponseError(c *ginext.Context, code, desc string) {
	ErrorResponse(c, http.StatusBadRequest, code, desc)
}

func InternalServerError(c *ginext.Context) {
	ErrorResponse(c, http.StatusInternalServerError, ServiceUnavailable, InternalError)
}

func FieldBadFormatError(c *ginext.Context, fieldName string) {
	BadResponseError(c, FieldBadFormat, "Field '"+fieldName+"' has bad format")
}

func FieldIncorrectError(c *ginext.Context, desc string) {
	BadResponseError(c, FieldIncorrect, desc)
}

func UnauthorizedError(c *ginext.Context, desc string) {
	ErrorResponse(c, http.StatusUnauthorized, Unauthorized, desc)
}

func ForbiddenError(c *ginext.Context) {
	ErrorResponse(c, http.StatusForbidden, Forbidden, "You are not allowed to do this")
}

func NotFoundError(c *ginext.Context, desc string) {
	ErrorResponse(c, http.StatusNotFound, NotFound, desc)
}

func ConflictError(c *ginext.Context, code, desc string) {
	ErrorResponse(c, http.StatusConflict, code, desc)
}

func SuccessResponse(c *ginext.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Status: "ok",
		Data:   data,
	})
}

func SuccessCreatedResponse(c *ginext.Context, data any) {
	c.JSON(http.StatusCreated, Response{
		Status: "ok",
		Data:   data,
	})
}
