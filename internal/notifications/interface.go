package notifications

// Notifier delivers operator alerts. Levels are "info", "warning", "error"
// and "success"; implementations map them to their channel's conventions.
type Notifier interface {
	// SendAlert sends an alert with the specified level and message
	SendAlert(level, message string) error
}
