package syncer

import (
	"errors"

	"celcal/internal/calendar"
	"celcal/internal/celcat"
	"celcal/internal/notify"
)

// Kind is the failure category reported for an aborted cycle.
type Kind string

const (
	KindFetch           Kind = "fetch"
	KindMalformedRecord Kind = "malformed_record"
	KindDestination     Kind = "destination"
	KindWebhook         Kind = "webhook"
	KindInternal        Kind = "internal"
)

// Classify maps err onto the failure taxonomy. Errors matching none of
// the known types are KindInternal.
func Classify(err error) Kind {
	var (
		fetchErr     *celcat.FetchError
		malformedErr *celcat.MalformedRecordError
		apiErr       *calendar.APIError
		deliveryErr  *notify.DeliveryError
	)
	switch {
	case errors.As(err, &malformedErr):
		return KindMalformedRecord
	case errors.As(err, &fetchErr):
		return KindFetch
	case errors.As(err, &apiErr):
		return KindDestination
	case errors.As(err, &deliveryErr):
		return KindWebhook
	default:
		return KindInternal
	}
}
