package activitypub

import (
	"encoding/json"
	"net/http"
)

// Activity is an inbound ActivityPub envelope. The object is kept raw: it
// may be a bare URI string or an embedded object depending on the type.
type Activity struct {
	Context   interface{}     `json:"@context"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor"`
	Object    json.RawMessage `json:"object"`
	Published string          `json:"published,omitempty"`
	To        []string        `json:"to,omitempty"`
	Cc        []string        `json:"cc,omitempty"`
}

// ObjectURI extracts the object reference, whether the object field is a
// plain URI string or an embedded object with an "id".
func (a *Activity) ObjectURI() string {
	if len(a.Object) == 0 {
		return ""
	}
	var uri string
	if err := json.Unmarshal(a.Object, &uri); err == nil {
		return uri
	}
	var embedded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(a.Object, &embedded); err == nil {
		return embedded.ID
	}
	return ""
}

// EmbeddedObject decodes the type/id pair of an embedded object, if any.
func (a *Activity) EmbeddedObject() (objType, objID string, ok bool) {
	var embedded struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(a.Object, &embedded); err != nil {
		return "", "", false
	}
	return embedded.Type, embedded.ID, embedded.Type != "" || embedded.ID != ""
}

// ActivityKind is the dispatch tag for an envelope, resolved once after
// parsing and never re-inspected downstream.
type ActivityKind int

const (
	KindUnknown ActivityKind = iota
	KindFollow
	KindUndo
	KindCreate
	KindLike
	KindAnnounce
	KindDelete
	KindUpdate
)

func KindOf(activityType string) ActivityKind {
	switch activityType {
	case "Follow":
		return KindFollow
	case "Undo":
		return KindUndo
	case "Create":
		return KindCreate
	case "Like":
		return KindLike
	case "Announce":
		return KindAnnounce
	case "Delete":
		return KindDelete
	case "Update":
		return KindUpdate
	default:
		return KindUnknown
	}
}

// Status is the terminal state of one inbound delivery.
type Status int

const (
	StatusApplied Status = iota
	StatusDeduplicated
	StatusRejected
)

// RejectReason distinguishes terminal rejections; senders must not retry
// any of these, the outcome would not change.
type RejectReason string

const (
	ReasonMalformed       RejectReason = "malformed"
	ReasonUnauthorized    RejectReason = "unauthorized"
	ReasonUnknownActor    RejectReason = "unknown-actor"
	ReasonSpoofMismatch   RejectReason = "spoof-mismatch"
	ReasonUnsupportedType RejectReason = "unsupported-type"
)

// Outcome is the processor's verdict for one delivery.
type Outcome struct {
	Status Status
	Reason RejectReason
}

// HTTPStatus maps the outcome to the inbox response code. Transient store
// failures never reach an Outcome; they surface as errors and map to 500 so
// the sender's retry policy redelivers.
func (o Outcome) HTTPStatus() int {
	switch o.Status {
	case StatusApplied, StatusDeduplicated:
		return http.StatusAccepted
	case StatusRejected:
		if o.Reason == ReasonUnauthorized || o.Reason == ReasonSpoofMismatch {
			return http.StatusUnauthorized
		}
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (o Outcome) String() string {
	switch o.Status {
	case StatusApplied:
		return "applied"
	case StatusDeduplicated:
		return "deduplicated"
	case StatusRejected:
		return "rejected(" + string(o.Reason) + ")"
	default:
		return "unknown"
	}
}
