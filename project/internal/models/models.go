package models

import (
	"time"

	"github.com/aarushishahhh/supplysync/project/internal/schedule"
)

// Record is one supplier item as decoded from JSON.
type Record = map[string]any

type ProbeRequest struct {
	APIURL      string `json:"apiUrl"`
	AccessToken string `json:"-"`
}

type ProbeResult struct {
	Success bool   `json:"success"`
	Status  int    `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Pagination struct {
	CurrentPage int     `json:"currentPage"`
	PerPage     int     `json:"perPage"`
	Total       int     `json:"total"`
	NextPageURL *string `json:"nextPageUrl"`
	PrevPageURL *string `json:"prevPageUrl"`
	HasNextPage bool    `json:"hasNextPage"`
	HasPrevPage bool    `json:"hasPrevPage"`
}

type SampleFetchResult struct {
	Items      []Record   `json:"items"`
	Pagination Pagination `json:"pagination"`
}

type FieldSet struct {
	Fields []string `json:"fields"`
	Sample Record   `json:"sample"`
}

// Connection links a supplier API to a shop. The access token is stored
// normalized and never serialized.
type Connection struct {
	ID           string           `json:"id"`
	Shop         string           `json:"shop"`
	Name         string           `json:"name"`
	APIURL       string           `json:"apiUrl"`
	CanonicalURL string           `json:"-"`
	AccessToken  string           `json:"-"`
	Schedule     *schedule.Config `json:"schedule"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	LastProbe    *ProbeRecord     `json:"lastProbe,omitempty"`
}

type ConnectionList struct {
	Success bool         `json:"success"`
	Items   []Connection `json:"items"`
}

type CreateConnectionRequest struct {
	Name        string
	APIURL      string
	AccessToken string
}

// ProbeRecord is one persisted probe of a stored connection.
type ProbeRecord struct {
	CheckedAt  time.Time `json:"checkedAt"`
	StatusCode *int      `json:"statusCode"`
	LatencyMs  int       `json:"latencyMs"`
	Success    bool      `json:"success"`
	Error      *string   `json:"error"`
}

type ProbeRecordList struct {
	Success bool          `json:"success"`
	Items   []ProbeRecord `json:"items"`
}

type ScheduleResponse struct {
	Success   bool             `json:"success"`
	Schedule  *schedule.Config `json:"schedule"`
	NextRunAt *time.Time       `json:"nextRunAt"`
}
