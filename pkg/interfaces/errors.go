package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrCoordinatorStopped = errors.New("coordinator stopped")
	ErrJournalClosed      = errors.New("journal closed")
)
