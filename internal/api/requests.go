package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// membershipRequest is the body of PATCH /groups/{id}/devices. IDs are not
// range-checked here: an ID with no device row is a membership conflict.
type membershipRequest struct {
	Add    []int64 `json:"add"`
	Remove []int64 `json:"remove"`
}

// packagesRequest is the body of POST /groups/{id}/package.
type packagesRequest struct {
	Packages []int64 `json:"packages" validate:"required"`
}

// policyRequest is the body of POST /groups/{id}/policy.
type policyRequest struct {
	Policy *string `json:"policy" validate:"required"`
}

// createDeviceRequest is the body of POST /devices.
type createDeviceRequest struct {
	MACAddress string `json:"mac_address" validate:"required,mac"`
	Name       string `json:"name" validate:"required,max=100"`
}

// createPackageRequest is the body of POST /packages.
type createPackageRequest struct {
	Version  string         `json:"version" validate:"required,max=128"`
	Metadata map[string]any `json:"metadata"`
}

// newValidator returns a validator that names fields by their JSON key.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var validate = newValidator()

// decodeAndValidate decodes a JSON body into dst and validates it.
// Unknown fields are rejected. Numbers in free-form maps stay json.Number.
func decodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON body: trailing data")
	}
	if err := validate.Struct(dst); err != nil {
		return validationMessage(err)
	}
	return nil
}

// validationMessage turns validator errors into one readable message.
func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		case "mac":
			msgs = append(msgs, field+" must be a MAC address")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %q validation", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// decodeMetadata reads a group creation body: a JSON object used verbatim
// as metadata. An empty body means no metadata. Numbers are kept as
// json.Number so integers beyond 2^53 survive unchanged.
func decodeMetadata(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if strings.TrimSpace(string(body)) == "" {
		return map[string]any{}, nil
	}

	var metadata map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&metadata); err != nil {
		return nil, errors.New("body must be a JSON object")
	}
	if dec.More() {
		return nil, errors.New("body must be a single JSON object")
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return metadata, nil
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}
