package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"polychat/model"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go/v3"
	"google.golang.org/genai"
)

// translateError maps an SDK or transport error onto the model taxonomy.
// Cancellation passes through untouched and already classified errors are
// returned as-is.
func translateError(vendor model.Vendor, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var classified *model.Error
	if errors.As(err, &classified) {
		return err
	}

	if status := statusOf(err); status != 0 {
		return &model.Error{Kind: kindForStatus(status), Source: string(vendor), Status: status, Err: err}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return model.NewError(model.ErrProtocol, string(vendor), err)
	}
	return model.NewError(model.ErrTransport, string(vendor), err)
}

func statusOf(err error) int {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	var gErrPtr *genai.APIError
	if errors.As(err, &gErrPtr) {
		return gErrPtr.Code
	}
	var olErr api.StatusError
	if errors.As(err, &olErr) {
		return olErr.StatusCode
	}
	return 0
}

func kindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return model.ErrAuth
	case status == http.StatusTooManyRequests:
		return model.ErrRateLimit
	case status >= 500:
		return model.ErrTransport
	default:
		return model.ErrProtocol
	}
}

// protocolError reports a response the adapter could not make sense of.
func protocolError(vendor model.Vendor, err error) error {
	return model.NewError(model.ErrProtocol, string(vendor), err)
}
