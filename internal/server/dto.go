package server

import (
	"encoding/json"

	"fieldline/internal/domain"
	"fieldline/internal/engine"
)

// Request payloads

type CreateSolicitationRequest struct {
	ID       string           `json:"id,omitempty"`
	PhotoRef string           `json:"photo_ref"`
	Location *domain.Location `json:"location"`
	Address  *domain.Address  `json:"address,omitempty"`
	Note     string           `json:"note,omitempty"`
}

type TransitionRequest struct {
	TargetStatus string `json:"target_status" enum:"submitted,refused,sent_to_executor,started,on_hold,finished"`
}

type DevTokenRequest struct {
	ActorID     string `json:"actor_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role" enum:"submitter,reviewer,executor"`
}

// Response payloads

type StatusEntryResponse struct {
	Status    string `json:"status" enum:"submitted,refused,sent_to_executor,started,on_hold,finished"`
	ActorName string `json:"actor_name"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

type SolicitationResponse struct {
	ID            string                `json:"id"`
	SubmitterID   string                `json:"submitter_id"`
	SubmitterName string                `json:"submitter_name"`
	PhotoRef      string                `json:"photo_ref"`
	Location      domain.Location       `json:"location"`
	Address       *domain.Address       `json:"address,omitempty"`
	Note          string                `json:"note,omitempty"`
	CreatedAt     string                `json:"created_at" format:"date-time"`
	CurrentStatus string                `json:"current_status" enum:"submitted,refused,sent_to_executor,started,on_hold,finished"`
	History       []StatusEntryResponse `json:"history"`
	SentBy        string                `json:"sent_by,omitempty"`
}

type ReviewerQueueResponse struct {
	Pending   []SolicitationResponse `json:"pending"`
	Processed []SolicitationResponse `json:"processed"`
}

type ExecutorQueueResponse struct {
	Active   []SolicitationResponse `json:"active"`
	Finished []SolicitationResponse `json:"finished"`
}

type EventResponse struct {
	ID             int64          `json:"id"`
	TS             string         `json:"ts" format:"date-time"`
	Type           string         `json:"type"`
	SolicitationID string         `json:"solicitation_id,omitempty"`
	ActorID        string         `json:"actor_id"`
	Payload        map[string]any `json:"payload"`
}

type DevTokenResponse struct {
	Token string `json:"token"`
}

// Conversion helpers

func solicitationResponse(s domain.Solicitation) SolicitationResponse {
	history := make([]StatusEntryResponse, len(s.History))
	for i, h := range s.History {
		history[i] = StatusEntryResponse{
			Status:    string(h.Status),
			ActorName: h.ActorName,
			Timestamp: h.Timestamp,
		}
	}
	out := SolicitationResponse{
		ID:            s.ID,
		SubmitterID:   s.SubmitterID,
		SubmitterName: s.SubmitterName,
		PhotoRef:      s.PhotoRef,
		Location:      s.Location,
		Address:       s.Address,
		Note:          s.Note,
		CreatedAt:     s.CreatedAt,
		CurrentStatus: string(s.CurrentStatus),
		History:       history,
	}
	if sent := engine.SentBy(s); sent != "unknown" {
		out.SentBy = sent
	}
	return out
}

func mapSolicitations(list []domain.Solicitation) []SolicitationResponse {
	out := make([]SolicitationResponse, len(list))
	for i, s := range list {
		out[i] = solicitationResponse(s)
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:             e.ID,
		TS:             e.TS,
		Type:           e.Type,
		SolicitationID: e.SolicitationID,
		ActorID:        e.ActorID,
		Payload:        decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}
