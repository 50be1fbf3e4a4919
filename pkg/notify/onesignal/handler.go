package onesignal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/papermatch/papermatch-functions/internal"
)

// Sender submits a notification and returns the provider's response
type Sender interface {
	Send(ctx context.Context, userID, contents string) (json.RawMessage, error)
}

// notifyRequest is the onesignal-notify body
type notifyRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	Contents string `json:"contents" validate:"required"`
}

type notifyResponse struct {
	OneSignalResponse json.RawMessage `json:"onesignalResponse"`
}

// Handler serves the onesignal-notify function
type Handler struct {
	sender   Sender
	validate *validator.Validate
}

// NewHandler creates a Handler over sender
func NewHandler(sender Sender) *Handler {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})
	return &Handler{sender: sender, validate: validate}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		_ = internal.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := internal.ReadBodyStrict(w, r, internal.MaxBodyBytes)
	if err != nil {
		_ = internal.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req notifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		_ = internal.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)

	if err := h.validateRequest(&req); err != nil {
		_ = internal.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.sender.Send(r.Context(), req.UserID, req.Contents)
	if err != nil {
		_ = internal.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, notifyResponse{OneSignalResponse: resp})
}

// validateRequest maps the first missing field to its sentinel error
func (h *Handler) validateRequest(req *notifyRequest) error {
	err := h.validate.Struct(req)
	if err == nil {
		if strings.TrimSpace(req.Contents) == "" {
			return ErrMissingContents
		}
		return nil
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		switch validationErrs[0].Field() {
		case "user_id":
			return ErrMissingUserID
		case "contents":
			return ErrMissingContents
		}
	}
	return err
}
