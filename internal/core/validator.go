package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"classbook/internal/types"
)

// Validator wraps go-playground/validator with the booking API's custom tags:
//
//	booking_intent  one of confirm, cancel, joinWaitlist, leaveWaitlist
//	iso_date        a YYYY-MM-DD calendar date
//	payment_method  empty, "subscription" or "drop_in"
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with the custom tags registered and field
// names reported by their json tag.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	if err := v.RegisterValidation("booking_intent", func(fl validator.FieldLevel) bool {
		return types.BookingIntent(fl.Field().String()).Valid()
	}); err != nil {
		logger.Error("failed to register booking_intent validator", "error", err)
	}
	if err := v.RegisterValidation("iso_date", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(time.DateOnly, fl.Field().String())
		return err == nil
	}); err != nil {
		logger.Error("failed to register iso_date validator", "error", err)
	}
	if err := v.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
		switch types.PaymentMethod(fl.Field().String()) {
		case types.PaymentAuto, types.PaymentSubscription, types.PaymentDropIn:
			return true
		}
		return false
	}); err != nil {
		logger.Error("failed to register payment_method validator", "error", err)
	}

	return &Validator{validate: v, logger: logger}
}

// FieldError is one failed rule in a validation response.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// ValidateStruct runs the struct's validate tags. Rule violations come back
// as validation_invalid_payload with a "fields" list in Details.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidPayload,
		"request failed validation", err, map[string]any{"fields": fields})
}
