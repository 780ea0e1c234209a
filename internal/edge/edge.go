// Package edge calls the platform's edge functions on behalf of the
// signed-in user. Every call needs a local bearer token; without one it
// fails before touching the network.
package edge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dgellow/medfix/internal/backend"
	"github.com/dgellow/medfix/internal/log"
)

// MsgNoSession is reported when no bearer token is available locally.
const MsgNoSession = "No valid session found"

// ErrNoSession is returned when no bearer token is available locally.
var ErrNoSession = errors.New(MsgNoSession)

// ErrMissingFields is returned by CreateRequest for blank input.
var ErrMissingFields = errors.New("Please fill in all fields")

// Error is a non-2xx edge function response.
type Error struct {
	Function string
	Status   int
	Message  string
}

func (e *Error) Error() string {
	return e.Message
}

// SessionSource yields the current backend session, or nil when signed out.
type SessionSource interface {
	GetSession(ctx context.Context) (*backend.Session, error)
}

// MaintenanceRequest is a device repair request filed by a doctor.
type MaintenanceRequest struct {
	ID               string    `json:"id" yaml:"id"`
	DeviceName       string    `json:"device_name" yaml:"device_name"`
	Description      string    `json:"description,omitempty" yaml:"description,omitempty"`
	Status           string    `json:"status" yaml:"status"`
	CreatedAt        time.Time `json:"created_at" yaml:"created_at"`
	AssignedEngineer string    `json:"assigned_engineer,omitempty" yaml:"assigned_engineer,omitempty"`
}

// Functions is the client for the edge functions.
type Functions struct {
	sessions SessionSource
	invoker  backend.FunctionInvoker
}

// New creates a Functions client
func New(sessions SessionSource, invoker backend.FunctionInvoker) *Functions {
	return &Functions{sessions: sessions, invoker: invoker}
}

// GetUserRole returns the role stored in the user's profile.
func (f *Functions) GetUserRole(ctx context.Context, userID string) (string, error) {
	var out struct {
		Role string `json:"role"`
	}
	err := f.call(ctx, http.MethodPost, backend.FunctionGetUserRole, map[string]string{"userId": userID}, &out, "")
	if err != nil {
		return "", err
	}
	return out.Role, nil
}

// ValidateUserProfile reports whether the user's profile has both name and role.
func (f *Functions) ValidateUserProfile(ctx context.Context, userID string) (bool, error) {
	var out struct {
		IsProfileComplete bool `json:"isProfileComplete"`
	}
	err := f.call(ctx, http.MethodPost, backend.FunctionValidateUserProfile, map[string]string{"userId": userID}, &out, "")
	if err != nil {
		return false, err
	}
	return out.IsProfileComplete, nil
}

// CreateRequest files a maintenance request for a device.
func (f *Functions) CreateRequest(ctx context.Context, deviceName, description string) (*MaintenanceRequest, error) {
	deviceName = strings.TrimSpace(deviceName)
	description = strings.TrimSpace(description)
	if deviceName == "" || description == "" {
		return nil, ErrMissingFields
	}

	var out struct {
		Request *MaintenanceRequest `json:"request"`
	}
	body := map[string]string{"device_name": deviceName, "description": description}
	if err := f.call(ctx, http.MethodPost, backend.FunctionCreateRequest, body, &out, "Failed to create request"); err != nil {
		return nil, err
	}

	if out.Request == nil {
		// the function may answer without the created row
		return &MaintenanceRequest{DeviceName: deviceName, Description: description, Status: "pending"}, nil
	}
	return out.Request, nil
}

// DoctorRequests lists the signed-in doctor's maintenance requests.
func (f *Functions) DoctorRequests(ctx context.Context) ([]MaintenanceRequest, error) {
	var out struct {
		Requests []MaintenanceRequest `json:"requests"`
	}
	if err := f.call(ctx, http.MethodGet, backend.FunctionGetDoctorRequests, nil, &out, "Failed to fetch doctor requests"); err != nil {
		return nil, err
	}
	if out.Requests == nil {
		return []MaintenanceRequest{}, nil
	}
	return out.Requests, nil
}

// call invokes name and decodes a 2xx body into out. On other statuses the
// body's "error" field becomes the message, else fallback, else the status.
func (f *Functions) call(ctx context.Context, method, name string, body, out any, fallback string) error {
	sess, err := f.sessions.GetSession(ctx)
	if err != nil {
		log.LogDebugWithFields("edge", "No usable session", map[string]any{
			"function": name,
			"error":    err.Error(),
		})
		return ErrNoSession
	}
	token := sess.AccessToken()
	if token == "" {
		return ErrNoSession
	}

	status, data, err := f.invoker.InvokeFunction(ctx, method, name, token, body)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	if status < 200 || status >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &payload)

		msg := payload.Error
		if msg == "" {
			msg = fallback
		}
		if msg == "" {
			msg = fmt.Sprintf("HTTP error! status: %d", status)
		}
		log.LogDebugWithFields("edge", "Function returned error", map[string]any{
			"function": name,
			"status":   status,
		})
		return &Error{Function: name, Status: status, Message: msg}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", name, err)
	}
	return nil
}
