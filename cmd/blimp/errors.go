package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/srg/blimp/internal/peripheral"
)

// Command-level errors
var (
	// ErrNotNotifiable indicates --feed or --echo named a characteristic without notify or indicate.
	ErrNotNotifiable = errors.New("characteristic does not support notify or indicate")
)

// FormatUserError turns an error chain into a message suitable for the terminal.
func FormatUserError(err error) string {
	var nf *peripheral.NotFoundError
	switch {
	case errors.As(err, &nf):
		return fmt.Sprintf("%s (check the profile: blimp profile <file>)", nf.Error())
	case errors.Is(err, peripheral.ErrInvalidUUID):
		return fmt.Sprintf("%v (use 16-bit form like 2a37 or a full 128-bit UUID)", err)
	case errors.Is(err, peripheral.ErrDuplicateService), errors.Is(err, peripheral.ErrDuplicateCharacteristic):
		return fmt.Sprintf("%v (UUIDs must be unique across the profile)", err)
	case errors.Is(err, ErrNotNotifiable):
		return fmt.Sprintf("%v (add notify to its properties)", err)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Sprintf("%v (file not found)", err)
	case errors.Is(err, os.ErrPermission):
		return fmt.Sprintf("%v (permission denied; on Linux the HCI socket needs CAP_NET_ADMIN)", err)
	default:
		return err.Error()
	}
}
