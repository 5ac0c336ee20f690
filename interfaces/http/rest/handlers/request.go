// Package handlers implements the REST endpoints of the designer API.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"crewcanvas/domain/core/valueobjects"
	"crewcanvas/pkg/common"
	apperrors "crewcanvas/pkg/errors"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 4 << 20

var validate = validator.New()

// decode reads a JSON body into v and validates it. An empty body is
// accepted when optional is set.
func decode(r *http.Request, v any, optional bool) error {
	if err := common.ParseJSONBody(r, v, maxBodyBytes); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			return apperrors.NewValidationError("invalid request body").WithCause(err)
		}
	}
	if err := validate.Struct(v); err != nil {
		return apperrors.NewValidationError("invalid request").
			WithDetail("fields", fieldErrors(err)).
			WithCause(err)
	}
	return nil
}

func fieldErrors(err error) map[string]string {
	out := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			out[fe.Namespace()] = fe.Tag()
		}
	}
	return out
}

func tabIDParam(r *http.Request) (valueobjects.TabID, error) {
	id, err := valueobjects.TabIDFromString(chi.URLParam(r, "tabID"))
	if err != nil {
		return valueobjects.TabID{}, apperrors.NewValidationError("invalid tab id").WithCause(err)
	}
	return id, nil
}

func tabNotFound(id valueobjects.TabID) error {
	return apperrors.NewNotFoundError("tab " + id.String())
}
