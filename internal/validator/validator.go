// Package validator checks and normalizes untrusted item payloads before they
// reach the repository. All functions are pure and deterministic.
package validator

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vyrodovalexey/mongo-items-api/internal/model"
)

// Payload field names.
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldID          = "id"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// ValidateItem checks a create payload. Name is required and trimmed,
// description defaults to empty. Unknown fields are dropped.
func ValidateItem(payload map[string]any) (model.ItemInput, error) {
	name, present, err := stringField(payload, FieldName)
	if err != nil {
		return model.ItemInput{}, err
	}
	if !present || name == "" {
		return model.ItemInput{}, model.NewValidationError(model.ErrMissingField, FieldName)
	}

	description, _, err := stringField(payload, FieldDescription)
	if err != nil {
		return model.ItemInput{}, err
	}

	input := model.ItemInput{
		Name:        name,
		Description: description,
	}
	if err := checkStruct(&input); err != nil {
		return model.ItemInput{}, err
	}

	return input, nil
}

// ValidateUpdate checks a partial update payload. Every field is optional,
// but a present name must not be blank and at least one known field must
// be supplied.
func ValidateUpdate(payload map[string]any) (model.ItemPatch, error) {
	var patch model.ItemPatch

	name, present, err := stringField(payload, FieldName)
	if err != nil {
		return model.ItemPatch{}, err
	}
	if present {
		if name == "" {
			return model.ItemPatch{}, model.NewValidationError(model.ErrMissingField, FieldName)
		}
		patch.Name = &name
	}

	description, present, err := stringField(payload, FieldDescription)
	if err != nil {
		return model.ItemPatch{}, err
	}
	if present {
		patch.Description = &description
	}

	if patch.IsEmpty() {
		return model.ItemPatch{}, model.NewValidationError(model.ErrEmptyUpdate, "")
	}

	if err := checkStruct(&patch); err != nil {
		return model.ItemPatch{}, err
	}

	return patch, nil
}

// ValidateID accepts only the store's native id format: a 24 character
// hexadecimal ObjectID in either case. The id is returned in lowercase, the
// form the store produces.
func ValidateID(raw string) (string, error) {
	id := strings.ToLower(raw)
	if err := validate.Var(id, "required,mongodb"); err != nil {
		return "", model.NewValidationError(model.ErrInvalidID, FieldID)
	}
	return id, nil
}

// Pagination parses page and per_page query values. Unparsable values fall
// back to defaults and out-of-range values are clamped.
func Pagination(page, perPage string) (int, int) {
	params := model.ListParams{
		Page:    atoiOr(page, model.DefaultPage),
		PerPage: atoiOr(perPage, model.DefaultPerPage),
	}.Normalize()

	return params.Page, params.PerPage
}

// stringField returns the trimmed string at key. A missing key or a null
// value is reported as not present.
func stringField(payload map[string]any, key string) (string, bool, error) {
	raw, ok := payload[key]
	if !ok || raw == nil {
		return "", false, nil
	}

	s, ok := raw.(string)
	if !ok {
		return "", false, model.NewValidationError(model.ErrInvalidType, key)
	}

	return strings.TrimSpace(s), true, nil
}

// checkStruct runs the struct tag rules and converts the first failure into
// a model.ValidationError.
func checkStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return err
	}

	fe := ve[0]
	switch fe.Tag() {
	case "required", "min":
		return model.NewValidationError(model.ErrMissingField, fe.Field())
	case "max":
		return model.NewValidationError(model.ErrFieldTooLong, fe.Field())
	default:
		return model.NewValidationError(model.ErrInvalidType, fe.Field())
	}
}

// atoiOr parses raw, returning fallback when it is not a number. Numbers
// out of the int range saturate so Normalize can clamp them.
func atoiOr(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	switch {
	case err == nil, errors.Is(err, strconv.ErrRange):
		return n
	default:
		return fallback
	}
}
