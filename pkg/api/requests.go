package api

// EventRequest is the ingestion payload. Upgrade submissions additionally
// carry the prior event id.
type EventRequest struct {
	ID       string `json:"id"`
	ChildID  string `json:"child_id" binding:"required"`
	TS       int64  `json:"ts" binding:"required"`
	Kind     string `json:"kind" binding:"required"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	TabID    string `json:"tab_id"`
	Referrer string `json:"referrer"`
	DataJSON string `json:"data_json"`
}

// PinRequest authorizes a control action.
type PinRequest struct {
	PIN string `json:"pin" binding:"required"`
}

// PauseRequest pauses monitoring. Minutes absent or <= 0 means effectively
// indefinite.
type PauseRequest struct {
	PIN     string `json:"pin" binding:"required"`
	Minutes int    `json:"minutes"`
}

// OverrideRequest replaces a decision's action manually.
type OverrideRequest struct {
	DecisionID string `json:"decision_id" binding:"required"`
	Action     string `json:"action" binding:"required"`
}

// ChildUpdateRequest mutates a child profile. Nil fields are left alone.
type ChildUpdateRequest struct {
	Strictness *string `json:"strictness"`
	Age        *int    `json:"age"`
}
