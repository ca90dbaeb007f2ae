// Package utils provides shared helpers used across the ledger's ambient
// stack (config loading, CLI error reporting).
package utils

import "fmt"

// Wrap adds context to an error message. It returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
