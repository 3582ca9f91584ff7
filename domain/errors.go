package domain

import "errors"

var (
	// ErrOrderNotFound is returned when no order matches the given id or order number.
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidStatus is returned when a status string is not a known OrderStatus.
	ErrInvalidStatus = errors.New("invalid order status")
	// ErrInvalidOrder is returned when an order fails validation.
	ErrInvalidOrder = errors.New("invalid order")
	// ErrVersionConflict is returned when an update races with another writer.
	ErrVersionConflict = errors.New("order version conflict")
	// ErrStressTestRunning is returned when a stress test is started while another is active.
	ErrStressTestRunning = errors.New("another stress test is already running")
	// ErrStressTestLimit is returned when a stress test asks for more orders than allowed.
	ErrStressTestLimit = errors.New("stress test order count exceeds the limit")
	// ErrInvalidStressConfig is returned for malformed stress test configurations.
	ErrInvalidStressConfig = errors.New("invalid stress test configuration")
	// ErrNoStressTest is returned when stopping while nothing is running.
	ErrNoStressTest = errors.New("no stress test is running")
)
