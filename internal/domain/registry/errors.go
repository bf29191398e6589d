package registry

import (
	"errors"
	"fmt"

	"github.com/dwebshell/core/internal/ipc"
)

var (
	// ErrNotInstalled is returned for module ids the registry does not know
	ErrNotInstalled = fmt.Errorf("module not installed: %w", ipc.ErrNotFound)
	// ErrAlreadyInstalled is returned when installing a duplicate id
	ErrAlreadyInstalled = errors.New("module already installed")
	// ErrRegistryClosed is returned once the registry has shut down
	ErrRegistryClosed = errors.New("registry closed")
	// ErrDuplicateBroker is returned when seeding a pair that already exists
	ErrDuplicateBroker = errors.New("broker already exists for pair")
	// ErrProtectedModule is returned when closing or uninstalling the registry's own module
	ErrProtectedModule = errors.New("module cannot be stopped")
)

// ErrSelfConnect is returned when a module asks to be brokered to itself
var ErrSelfConnect = errors.New("module cannot connect to itself")
