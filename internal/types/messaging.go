package types

// ExpansionJob is the SQS payload that asks the schedule worker to turn a
// template into concrete lessons. JSON tags use snake_case to match the
// message contract shared with the API.
type ExpansionJob struct {
	JobID          string `json:"job_id"`
	IdempotencyKey string `json:"idempotency_key"`
	TenantID       string `json:"tenant_id"`
	TemplateID     string `json:"template_id"`

	// Inclusive calendar dates, YYYY-MM-DD.
	StartDate     string `json:"start_date"`
	EndDate       string `json:"end_date"`
	ClearExisting bool   `json:"clear_existing"`

	// Observability
	TraceID string `json:"trace_id"`
}

// SlotConflict names two slots on the same day and location that overlap.
type SlotConflict struct {
	Weekday  int       `json:"weekday"`
	Location string    `json:"location"`
	First    TimeRange `json:"first"`
	Second   TimeRange `json:"second"`
}

// TimeRange is a half-open time-of-day interval.
type TimeRange struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// ExpansionResult is the outcome of one expansion run. It is stored as the
// job_history result and returned by the job status endpoint.
type ExpansionResult struct {
	TemplateID       string         `json:"template_id"`
	CreatedLessonIDs []string       `json:"created_lesson_ids"`
	SkippedExisting  int            `json:"skipped_existing"`
	ClearedLessons   int            `json:"cleared_lessons"`
	Conflicts        []SlotConflict `json:"conflicts,omitempty"`
}
