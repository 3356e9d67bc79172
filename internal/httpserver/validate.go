package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is a package-level, concurrency-safe validator instance.
var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrorResponse is the error envelope returned for invalid requests.
type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details []ValidationError `json:"details"`
}

// MaxRequestBody caps request payloads. The largest legitimate body this API
// accepts is a tile write of 1000 place keys, well under this.
const MaxRequestBody = 256 << 10 // 256 KiB

// Decode strictly parses the request body into dst: unknown fields,
// oversized payloads, and trailing garbage are all rejected with
// client-presentable errors.
func Decode(r *http.Request, dst any) error {
	limited := http.MaxBytesReader(nil, r.Body, MaxRequestBody)
	defer limited.Close()

	dec := json.NewDecoder(limited)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return decodeError(err)
	}
	// A second value after the first means the payload wasn't one document.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must be a single JSON document")
	}
	return nil
}

// decodeError translates json/http decode failures into messages safe to
// echo back to the client.
func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("request body exceeds %d bytes", int64(MaxRequestBody))
	}
	if errors.Is(err, io.EOF) {
		return errors.New("missing request body")
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Errorf("malformed JSON at offset %d", syntaxErr.Offset)
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Errorf("field %q has the wrong type", typeErr.Field)
	}
	return fmt.Errorf("unparseable request body: %w", err)
}

// DecodeAndValidate decodes the request body and runs struct validation on it.
func DecodeAndValidate(r *http.Request, dst any) error {
	if err := Decode(r, dst); err != nil {
		return err
	}
	return Validate(dst)
}

// Validate runs struct tag validation on v and converts failures into a
// readable error.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q validation", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// RespondValidationError writes a 400 with per-field details.
func RespondValidationError(w http.ResponseWriter, verrs validator.ValidationErrors) {
	details := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: fmt.Sprintf("failed %q validation", fe.Tag()),
		})
	}
	Respond(w, http.StatusBadRequest, ValidationErrorResponse{
		Error:   "validation_failed",
		Message: "request body failed validation",
		Details: details,
	})
}
