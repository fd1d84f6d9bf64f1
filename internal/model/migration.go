package model

import "time"

const (
	JobPermissions  = "permissions"
	JobLastMessages = "last-messages"
)

type MigrationFailure struct {
	ConversationID string `json:"conversationId"`
	Error          string `json:"error"`
}

// MigrationResult summarises one run of a batch migration.
// Pending counts conversations that were listed but left untouched by an interrupted run.
// ResumeAfter is set only for interrupted last-messages runs: every conversation id <= ResumeAfter
// has an outcome in this result, so a resumed run can page from there.
type MigrationResult struct {
	Job         string             `json:"job"`
	Total       int                `json:"total"`
	Updated     int                `json:"updated"`
	Skipped     int                `json:"skipped"`
	Failed      int                `json:"failed"`
	Pending     int                `json:"pending,omitempty"`
	ResumeAfter string             `json:"resumeAfter,omitempty"`
	Failures    []MigrationFailure `json:"failures,omitempty"`
}

// MigrationReport is the stored record of the last run of a job.
type MigrationReport struct {
	Job        string          `json:"job"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	Completed  bool            `json:"completed"`
	Result     MigrationResult `json:"result"`
}
