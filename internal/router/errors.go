package router

import "errors"

// ErrInvalidPayload is returned when an event's data does not decode
var ErrInvalidPayload = errors.New("invalid event payload")
