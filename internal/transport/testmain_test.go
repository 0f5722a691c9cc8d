package transport_test

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks for leaked goroutines (the dial and read-loop
// goroutines Connect starts) after all tests in this package complete.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
