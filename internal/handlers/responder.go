package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"

	"qalam/internal/utils"
)

const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"

	maxJSONBody      = 1 << 20
	maxMultipartBody = 32 << 20
)

// HandlerFunc is an http handler that reports failures instead of writing them.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Envelope is the body of every successful response.
type Envelope struct {
	Status  string `json:"status"`
	Result  *int   `json:"result,omitempty"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorBody is written by Responder.Error.
type ErrorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type dataBody struct {
	Data any `json:"data"`
}

func single(v any) Envelope {
	return Envelope{Status: statusSuccess, Data: dataBody{Data: v}}
}

func list[T any](items []T) Envelope {
	n := len(items)
	if items == nil {
		items = []T{}
	}
	return Envelope{Status: statusSuccess, Result: &n, Data: dataBody{Data: items}}
}

// Responder writes envelopes and is the one place errors become responses.
type Responder struct {
	Logger      *slog.Logger
	Development bool
	Metrics     *utils.MetricsCollector
}

func (rs *Responder) Wrap(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			rs.Error(w, r, err)
		}
	}
}

// Error translates err. AppErrors other than database failures are operational
// and their message reaches the client; anything else is logged and hidden
// outside development.
func (rs *Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "Something went wrong"
	operational := false
	if appErr, ok := utils.AsAppError(err); ok {
		status = utils.AppErrorToHTTPStatus(appErr.Code)
		if appErr.Code != utils.ErrDatabase {
			message = appErr.Message
			operational = true
		}
	}

	body := ErrorBody{Status: statusFail, Message: message}
	if status >= http.StatusInternalServerError {
		body.Status = statusError
		if rs.Metrics != nil {
			rs.Metrics.IncrementErrors()
		}
		rs.Logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"operational", operational,
			"error", err,
		)
	}
	if rs.Development {
		if !operational {
			body.Message = err.Error()
		}
		body.Error = err.Error()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to write response", "error", err)
	}
}

func noContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// decodeJSON reads a single JSON value from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return utils.NewValidationError("Request body is empty")
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return utils.NewValidationError("Invalid " + typeErr.Field + ": expected " + typeErr.Type.String())
		}
		return utils.NewAppError(utils.ErrValidation, "Invalid input data. Malformed JSON body", err)
	}
	return nil
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// readFields returns the request's fields from either a JSON object or a
// multipart form. The form is nil for JSON bodies; an empty body yields no fields.
func readFields(w http.ResponseWriter, r *http.Request) (map[string]any, *multipart.Form, error) {
	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBody)
		if err := r.ParseMultipartForm(maxMultipartBody); err != nil {
			return nil, nil, utils.NewAppError(utils.ErrValidation, "Invalid input data. Malformed form body", err)
		}
		fields := make(map[string]any, len(r.MultipartForm.Value))
		for k, values := range r.MultipartForm.Value {
			if len(values) > 0 {
				fields[k] = values[0]
			}
		}
		return fields, r.MultipartForm, nil
	}

	fields := map[string]any{}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(&fields); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, utils.NewAppError(utils.ErrValidation, "Invalid input data. Malformed JSON body", err)
	}
	return fields, nil, nil
}

func formFiles(form *multipart.Form, field string) []*multipart.FileHeader {
	if form == nil {
		return nil
	}
	return form.File[field]
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}
