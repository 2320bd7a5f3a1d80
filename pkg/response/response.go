package response

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	apperrors "carconnect/pkg/errors"
)

// Response is the CarConnect API envelope, shared by the server side and
// the client decoder.
type Response struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type ErrorInfo struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func Success(c echo.Context, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, Response{
		Success:   true,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func Created(c echo.Context, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, Response{
		Success:   true,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func Error(c echo.Context, err error) error {
	var appErr *apperrors.AppError
	if e, ok := err.(*apperrors.AppError); ok {
		appErr = e
	} else {
		appErr = apperrors.Internal("An unexpected error occurred", err)
	}
	return c.JSON(appErr.Status, Response{
		Success:   false,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Error: &ErrorInfo{
			Code:    appErr.Code,
			Message: appErr.Message,
		},
	})
}

// Decode parses an API response body. Error envelopes and non-2xx statuses
// become AppErrors carrying the server's code and message; on success the
// data payload is unmarshaled into out (out may be nil for no-body calls).
func Decode(status int, body []byte, out interface{}) error {
	var env Response
	if err := json.Unmarshal(body, &env); err != nil {
		if status >= 200 && status < 300 {
			return apperrors.Internal("malformed API response", err)
		}
		return apperrors.New("API_ERROR", http.StatusText(status), status, err)
	}

	if !env.Success || env.Error != nil {
		code := "API_ERROR"
		message := http.StatusText(status)
		if env.Error != nil {
			if env.Error.Code != "" {
				code = env.Error.Code
			}
			if env.Error.Message != "" {
				message = env.Error.Message
			}
		}
		if status < 400 {
			status = http.StatusInternalServerError
		}
		return apperrors.New(code, message, status, nil)
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperrors.Internal("malformed API payload", err)
	}
	return nil
}
