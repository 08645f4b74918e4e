package notifier

import (
	"html"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "notifier")

// Notifier delivers user-facing alerts.
type Notifier interface {
	Notify(subject, body string) error
}

// LogNotifier writes alerts to the log. Used when no chat is configured.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(subject, body string) error {
	log.WithField("subject", subject).Info(body)
	return nil
}

func compose(subject, body string) string {
	if body == "" {
		return "<b>" + html.EscapeString(subject) + "</b>"
	}
	return "<b>" + html.EscapeString(subject) + "</b>\n\n" + body
}
