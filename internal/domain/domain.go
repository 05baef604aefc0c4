package domain

// Location is the GPS fix captured with a submission.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Address is the reverse-lookup result attached to a submission. It may be
// absent entirely when the lookup failed; individual fields are whatever the
// lookup returned and are never interpreted here.
type Address struct {
	Road        string `json:"road,omitempty"`
	Suburb      string `json:"suburb,omitempty"`
	City        string `json:"city,omitempty"`
	Postcode    string `json:"postcode,omitempty"`
	Country     string `json:"country,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// StatusEntry is one line of a solicitation's audit history. Entries are
// append-only: once written they are never mutated or removed.
type StatusEntry struct {
	Status    Status `json:"status"`
	ActorName string `json:"actor_name"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

// Solicitation is a single tracked field-service request. Every field except
// CurrentStatus and History is set at creation and immutable afterward.
// CurrentStatus always equals the status of the last History entry.
type Solicitation struct {
	ID            string        `json:"id"`
	SubmitterID   string        `json:"submitter_id"`
	SubmitterName string        `json:"submitter_name"`
	PhotoRef      string        `json:"photo_ref"`
	Location      Location      `json:"location"`
	Address       *Address      `json:"address,omitempty"`
	Note          string        `json:"note,omitempty"`
	CreatedAt     string        `json:"created_at" format:"date-time"`
	CurrentStatus Status        `json:"current_status" enum:"submitted,refused,sent_to_executor,started,on_hold,finished"`
	History       []StatusEntry `json:"history"`
}

// Actor is the current caller as established by the identity collaborator
// (JWT claims on the API, flags on the CLI). Immutable per session.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role" enum:"submitter,reviewer,executor"`
}

// Event is one row of the append-only audit event log.
type Event struct {
	ID             int64  `json:"id"`
	TS             string `json:"ts" format:"date-time"`
	Type           string `json:"type"`
	SolicitationID string `json:"solicitation_id,omitempty"`
	ActorID        string `json:"actor_id"`
	Payload        string `json:"payload_json"`
}
