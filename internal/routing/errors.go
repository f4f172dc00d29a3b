package routing

import (
	"errors"
	"fmt"
)

// ErrNoAvailableAccount is returned when no candidate survives filtering
// for a given model.
var ErrNoAvailableAccount = errors.New("no available account")

// NoAvailableAccountError names the model that had no eligible candidate.
type NoAvailableAccountError struct {
	Model string
}

func (e *NoAvailableAccountError) Error() string {
	return fmt.Sprintf("no available account for model %q", e.Model)
}

func (e *NoAvailableAccountError) Unwrap() error { return ErrNoAvailableAccount }
