package indicator

import "errors"

var (
	// ErrUnknownTemplate is returned when no factory is registered under a name.
	ErrUnknownTemplate = errors.New("unknown indicator template")
	// ErrEmptyName is returned when registering a template without a name.
	ErrEmptyName = errors.New("indicator template name is empty")
	// ErrNilFactory is returned when registering a nil factory.
	ErrNilFactory = errors.New("indicator template factory is nil")
	// ErrCalcFailed marks a calculation that returned an error, panicked or
	// did not settle before its context ended.
	ErrCalcFailed = errors.New("indicator calculation failed")
	// ErrDataSource wraps failures fetching the chart data list.
	ErrDataSource = errors.New("chart data source unavailable")
)
