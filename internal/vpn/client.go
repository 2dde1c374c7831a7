package vpn

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the control plane definitively reports that a
// user does not exist. Any other error means "unknown"; callers must not treat
// it as absence.
var ErrNotFound = errors.New("vpn: user not found")

// ErrUnsupported is returned for operations a protocol does not expose,
// such as per-user traffic counters on Outline.
var ErrUnsupported = errors.New("vpn: operation not supported")

// User is a provisioned credential as seen by the control plane.
type User struct {
	NativeID  string // uuid for v2ray, access-key id for outline
	Name      string
	ConfigURL string // connection config / access url
}

// Client is the per-server control-plane contract the reconciler needs.
type Client interface {
	CreateUser(ctx context.Context, label string) (*User, error)
	DeleteUser(ctx context.Context, nativeID string) error
	GetUserConfig(ctx context.Context, nativeID string) (string, error)
	ListUsers(ctx context.Context) ([]User, error)
	// Traffic returns the absolute cumulative usage in bytes for a user.
	Traffic(ctx context.Context, nativeID string) (int64, error)
	Close() error
}
