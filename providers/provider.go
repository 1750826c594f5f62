package providers

import (
	"context"

	"github.com/gofiber/fiber/v3"
)

// Provider is a component the host application activates when a user
// session starts and deactivates when it ends.
type Provider interface {
	ID() string
	Name() string
	Version() string
	IsActive() bool
	Activate(ctx context.Context) error
	Deactivate() error
}

// HasConfig is implemented by providers with a configuration section.
type HasConfig interface {
	ConfigKey() string
	DefaultConfig() map[string]any
}

// HasRoutes is implemented by providers exposing HTTP routes.
type HasRoutes interface {
	RegisterRoutes(group fiber.Router)
}

// HasActions is implemented by providers exposing named operator actions.
type HasActions interface {
	Actions() []Action
}

// Action is a named operation callable from a host's command surface.
type Action struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     func(input map[string]any) (any, error)
}
