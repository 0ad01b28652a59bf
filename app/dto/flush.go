package dto

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var (
	ErrMissingRequestID = errors.New("request_id is required")
	ErrRequestIDTooLong = errors.New("request_id must be at most 64 characters")
	ErrInvalidRequestID = errors.New("request_id may only contain letters, digits, '-', '_' and '.'")
	ErrReasonTooLong    = errors.New("reason must be at most 255 characters")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

const DefaultFlushReason = "manual"

type FlushRequest struct {
	RequestID string `json:"request_id" validate:"required,max=64,printascii,excludesall= /:"`
	Reason    string `json:"reason" validate:"omitempty,max=255"`
}

// FromEchoContext binds and normalizes a flush request from Echo.
func FromEchoContext(ctx echo.Context) (FlushRequest, error) {
	var req FlushRequest
	if err := ctx.Bind(&req); err != nil {
		return FlushRequest{}, err
	}
	req.normalize()
	return req, nil
}

// Validate checks required fields and length constraints.
func (r *FlushRequest) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	switch fe.Field() {
	case "RequestID":
		switch fe.Tag() {
		case "required":
			return ErrMissingRequestID
		case "max":
			return ErrRequestIDTooLong
		default:
			return ErrInvalidRequestID
		}
	case "Reason":
		return ErrReasonTooLong
	}
	return err
}

// normalize trims whitespace and defaults the reason.
func (r *FlushRequest) normalize() {
	r.RequestID = strings.TrimSpace(r.RequestID)
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		r.Reason = DefaultFlushReason
	}
}
