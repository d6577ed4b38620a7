package rws

import (
	"fmt"
	"regexp"

	"github.com/Mesh-ch/abb-robot-client/errors"
)

// Push payload classes emitted by the controller. The payload stays opaque
// beyond resource extraction; the class tells consumers how to read it.
const (
	ClassSignalState    = "ios-signalstate-ev"
	ClassRapidData      = "rap-data"
	ClassEventLog       = "elog-message-ev"
	ClassExecutionState = "rap-ctrlexecstate-ev"
	ClassOperationMode  = "pnl-opmode-ev"
	ClassControllerSt   = "pnl-ctrlstate-ev"
	ClassIpcMessage     = "dipc-msg-ev"
)

// Event is one immutable controller push notification.
type Event struct {
	// Resource is the routing key of the resource the event refers to
	// (path without state qualifier).
	Resource string
	// Class is the push payload class, one of the Class constants or a
	// class this client does not know.
	Class string
	// Payload is the raw XHTML push payload.
	Payload []byte
	// Timestamp is the local receive time in Unix milliseconds.
	Timestamp int64
}

// Push payloads are XHTML list items. Only the class attribute and the
// self-link href are interpreted here.
var (
	eventClassRe = regexp.MustCompile(`<li\s+class="([^"]+)"`)
	eventHrefRe  = regexp.MustCompile(`<a\s+href="([^"]+)"\s+rel="self"`)
)

// parseEvent extracts the routing key and class from a push payload.
func parseEvent(raw []byte, now int64) (Event, error) {
	href := eventHrefRe.FindSubmatch(raw)
	if href == nil {
		return Event{}, errors.WrapInvalid(
			fmt.Errorf("push payload has no self-referencing resource link"),
			"multiplexer", "parseEvent", "resource extraction")
	}

	class := ""
	if m := eventClassRe.FindSubmatch(raw); m != nil {
		class = string(m[1])
	}

	return Event{
		Resource:  resourceKey(string(href[1])),
		Class:     class,
		Payload:   raw,
		Timestamp: now,
	}, nil
}
