// Package domain contains core concepts shared by the sync components.
// This file defines participant identities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"campus-sync/errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Identity is the authenticated participant behind a presence handle or a
// ledger subscription.
type Identity struct {
	ID          string `validate:"required,max=128"`
	DisplayName string `validate:"max=64"`
}

// Validate rejects an empty identity with ErrNotAuthenticated before any
// network attempt is made on its behalf.
func (i Identity) Validate() error {
	if i.ID == "" {
		return errors.ErrNotAuthenticated
	}
	if err := validate.Struct(i); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidIdentity, err)
	}
	return nil
}

func (i Identity) Anonymous() bool {
	return i.ID == ""
}
