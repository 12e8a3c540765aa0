package domain

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusBlocked   Status = "blocked"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusBlocked, StatusCompleted:
		return true
	}
	return false
}

// Priority orders ready work; critical sorts first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank returns the sort rank of a priority; lower surfaces first.
// Unknown priorities rank with medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 2
}

// Dependencies are the declared relations of a record. BlockedBy and Blocks
// are inverse scheduling relations; Parent groups hierarchically; Related is
// informational only and never affects readiness.
type Dependencies struct {
	BlockedBy []string `json:"blocked_by,omitempty" yaml:"blocked_by"`
	Blocks    []string `json:"blocks,omitempty" yaml:"blocks"`
	Parent    *string  `json:"parent,omitempty" yaml:"parent"`
	Related   []string `json:"related,omitempty" yaml:"related"`
}

// TimeLayout formats last_modified stamps. Microsecond precision with a
// fixed width, so lexicographic order matches time order and conditional
// writes can tell two updates in the same second apart.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Record is one unit of work.
type Record struct {
	ID             string       `json:"id"`
	Status         Status       `json:"status" enum:"pending,active,blocked,completed"`
	Owner          *string      `json:"owner,omitempty"`
	Blocked        bool         `json:"blocked"`
	BlockingReason string       `json:"blocking_reason,omitempty"`
	Priority       Priority     `json:"priority" enum:"critical,high,medium,low"`
	Tags           []string     `json:"tags,omitempty"`
	LastModified   string       `json:"last_modified" format:"date-time"`
	Dependencies   Dependencies `json:"dependencies"`
}

// Claimed reports whether the record has a durable owner.
func (r Record) Claimed() bool {
	return r.Owner != nil && *r.Owner != ""
}

// Claim is a time-leased exclusive hold on a record, issued by the
// coordinator. The ClaimID is the release token.
type Claim struct {
	ClaimID   string `json:"claim_id"`
	ProjectID string `json:"project_id"`
	AgentName string `json:"agent_name"`
	CreatedAt string `json:"created_at" format:"date-time"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

// Event is one row of the append-only change log.
type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts" format:"date-time"`
	Type     string `json:"type"`
	RecordID string `json:"record_id,omitempty"`
	ActorID  string `json:"actor_id"`
	Payload  string `json:"payload_json"`
}

// APIKey authenticates an agent against the HTTP API.
type APIKey struct {
	ID        string `json:"id"`
	AgentName string `json:"agent_name"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
