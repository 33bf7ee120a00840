package chat

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/vultisig/vultisig-chatroom/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report fields by their json name, as clients send them
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

type joinRequest struct {
	Name string `json:"name" validate:"required"`
}

// SendRequest is the body of a message sent by a participant.
type SendRequest struct {
	To   string            `json:"to" validate:"required"`
	Text string            `json:"text" validate:"required"`
	Type model.MessageType `json:"type" validate:"required,oneof=message private_message"`
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return err
	}
	return &ValidationError{Details: lo.Map([]validator.FieldError(fieldErrors), func(fe validator.FieldError, _ int) string {
		return describe(fe)
	})}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%q is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%q must be one of [%s]", fe.Field(), strings.Join(strings.Fields(fe.Param()), ", "))
	default:
		return fmt.Sprintf("%q failed on %s", fe.Field(), fe.Tag())
	}
}

// ParseLimit reads the optional limit query value. An empty value means no limit.
func ParseLimit(raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return nil, &ValidationError{Details: []string{`"limit" must be a positive integer`}}
	}
	return &limit, nil
}
