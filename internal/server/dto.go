package server

import (
	"hive/internal/domain"
	"hive/internal/engine"
)

type ClaimRequest struct {
	ProjectID  string `json:"project_id" example:"api-service"`
	AgentName  string `json:"agent_name,omitempty" example:"bee-1"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" minimum:"0" example:"3600"`
}

type ClaimResponse struct {
	Claim domain.Claim `json:"claim"`
}

type ReleaseRequest struct {
	ClaimID string `json:"claim_id"`
}

type ExtendRequest struct {
	ClaimID    string `json:"claim_id"`
	TTLSeconds int    `json:"ttl_seconds,omitempty" minimum:"0"`
}

type ClaimStatusResponse struct {
	ProjectID string        `json:"project_id"`
	IsClaimed bool          `json:"is_claimed"`
	Claim     *domain.Claim `json:"claim,omitempty"`
}

type ReservationsResponse struct {
	Count  int            `json:"count"`
	Claims []domain.Claim `json:"claims"`
}

type ReadyResponse struct {
	Count int                `json:"count"`
	Items []engine.ReadyItem `json:"items"`
}

type CreateRecordRequest struct {
	ID             string   `json:"id"`
	Status         string   `json:"status,omitempty" enum:"pending,active,blocked,completed"`
	Priority       string   `json:"priority,omitempty" enum:"critical,high,medium,low"`
	Tags           []string `json:"tags,omitempty"`
	BlockedBy      []string `json:"blocked_by,omitempty"`
	Blocks         []string `json:"blocks,omitempty"`
	Related        []string `json:"related,omitempty"`
	Parent         string   `json:"parent,omitempty"`
	BlockingReason string   `json:"blocking_reason,omitempty"`
}

type UpdateRecordRequest struct {
	Status         *string  `json:"status,omitempty" enum:"pending,active,blocked,completed"`
	Priority       *string  `json:"priority,omitempty" enum:"critical,high,medium,low"`
	Blocked        *bool    `json:"blocked,omitempty"`
	BlockingReason *string  `json:"blocking_reason,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Parent         *string  `json:"parent,omitempty"`
	ClearParent    bool     `json:"clear_parent,omitempty"`
	AddBlockedBy   []string `json:"add_blocked_by,omitempty"`
	DropBlockedBy  []string `json:"drop_blocked_by,omitempty"`
	AddBlocks      []string `json:"add_blocks,omitempty"`
	DropBlocks     []string `json:"drop_blocks,omitempty"`
	AddRelated     []string `json:"add_related,omitempty"`
	DropRelated    []string `json:"drop_related,omitempty"`
	Force          bool     `json:"force,omitempty"`
}

type OwnerRequest struct {
	AgentName string `json:"agent_name,omitempty"`
	Force     bool   `json:"force,omitempty"`
}

type RecordsResponse struct {
	Count   int             `json:"count"`
	Records []domain.Record `json:"records"`
}

type EventsResponse struct {
	Events []domain.Event `json:"events"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	ActiveClaims  int    `json:"active_claims"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
