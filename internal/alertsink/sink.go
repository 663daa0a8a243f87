// Package alertsink implements the ErrorSink collaborator from spec.md §6/§9:
// a narrow interface the Forwarder calls into when the circuitbreaker
// tracker decides a repeated-failure alert is due. Request-time config
// errors are not sent to a Sink: the Router only answers them with a 500.
package alertsink

import log "github.com/sirupsen/logrus"

// Event is the payload delivered to an ErrorSink.
type Event struct {
	Provider string
	Message  string
}

// Sink is the ErrorSink capability interface.
type Sink interface {
	Alert(event Event)
}

// Logrus is the production Sink: it logs at error level through logrus,
// matching the teacher's pervasive use of log "github.com/sirupsen/logrus"
// for operational events.
type Logrus struct{}

// Alert implements Sink.
func (Logrus) Alert(event Event) {
	log.WithField("provider_tag", event.Provider).Error(event.Message)
}
