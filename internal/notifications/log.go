package notifications

import (
	"github.com/sirupsen/logrus"

	"github.com/ducminhle1904/crypto-risk-guard/internal/logger"
)

// LogNotifier writes alerts to the structured log. It is the fallback when no
// Telegram credentials are configured, so alert-worthy events always land
// somewhere durable.
type LogNotifier struct {
	log *logrus.Entry
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogNotifier{log: log.WithComponent("alerts")}
}

func (n *LogNotifier) SendAlert(level, message string) error {
	entry := n.log.WithField("alert_level", level)
	switch level {
	case "error":
		entry.Error(message)
	case "warning":
		entry.Warn(message)
	default:
		entry.Info(message)
	}
	return nil
}
