package model

// Permission grants an action on a subject inside a conversation (e.g. "delete" on "message").
type Permission struct {
	Action  string `json:"action"`
	Subject string `json:"subject"`
}
