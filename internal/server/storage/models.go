// Package storage provides the persistence layer for the Athena dashboard
// server. It defines typed model structs for every entity family, the
// Backend contract implemented by the in-memory, SQLite and PostgreSQL
// stores, and the Storage façade that the REST layer talks to.
package storage

import "time"

// Role is the authorization tier of a dashboard user.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAnalyst Role = "analyst"
	RoleUser    Role = "user"
)

// ClientStatus is the engagement state of a client.
type ClientStatus string

const (
	ClientActive   ClientStatus = "active"
	ClientInactive ClientStatus = "inactive"
	ClientPending  ClientStatus = "pending"
)

// TestStatus is the lifecycle state of a penetration test.
type TestStatus string

const (
	TestPending    TestStatus = "pending"
	TestInProgress TestStatus = "in-progress"
	TestCompleted  TestStatus = "completed"
	TestFailed     TestStatus = "failed"
)

// Severity is the highest finding tier reported by a test.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Action is the verb recorded by an activity-log entry.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
	ActionLogin   Action = "login"
	ActionLogout  Action = "logout"
)

// Sender tags who wrote a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// User maps to the `users` table.
//
// Password holds the bcrypt hash. The REST layer clears it before a user is
// written to a response, and omitempty then drops the attribute entirely.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"password,omitempty"`
	Role      Role      `json:"role"`
	Email     *string   `json:"email"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

// Client maps to the `clients` table.
type Client struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Company      string       `json:"company"`
	Email        string       `json:"email"`
	Phone        *string      `json:"phone"`
	Status       ClientStatus `json:"status"`
	Notes        *string      `json:"notes"`
	CreatedAt    time.Time    `json:"createdAt"`
	LastTestDate *time.Time   `json:"lastTestDate"`
}

// Site maps to the `sites` table. ClientID is not checked against clients.
type Site struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"clientId"`
	URL         string    `json:"url"`
	Name        string    `json:"name"`
	Environment string    `json:"environment"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Test maps to the `tests` table.
//
// Findings is free-form JSON. Every backend returns it as a decoded value,
// never as the serialized text some of them store.
type Test struct {
	ID                   string         `json:"id"`
	ClientID             string         `json:"clientId"`
	SiteID               *string        `json:"siteId"`
	TestType             string         `json:"testType"`
	Status               TestStatus     `json:"status"`
	Severity             *Severity      `json:"severity"`
	StartedAt            *time.Time     `json:"startedAt"`
	CompletedAt          *time.Time     `json:"completedAt"`
	Findings             map[string]any `json:"findings"`
	CriticalCount        int            `json:"criticalCount"`
	HighCount            int            `json:"highCount"`
	MediumCount          int            `json:"mediumCount"`
	LowCount             int            `json:"lowCount"`
	VulnerabilitiesFound int            `json:"vulnerabilitiesFound"`
	ExecutedBy           *string        `json:"executedBy"`
	CreatedAt            time.Time      `json:"createdAt"`
}

// Document maps to the `documents` table.
type Document struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"clientId"`
	Title        string    `json:"title"`
	Description  *string   `json:"description"`
	DocumentType string    `json:"documentType"`
	FileURL      *string   `json:"fileUrl"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	CreatedBy    *string   `json:"createdBy"`
}

// ActivityLog maps to the append-only `activity_logs` table.
type ActivityLog struct {
	ID         string    `json:"id"`
	Action     Action    `json:"action"`
	EntityType string    `json:"entityType"`
	EntityID   *string   `json:"entityId"`
	UserID     *string   `json:"userId"`
	Details    any       `json:"details"`
	IPAddress  *string   `json:"ipAddress"`
	Timestamp  time.Time `json:"timestamp"`
}

// AIHealthMetric maps to the `ai_health_metrics` time series.
type AIHealthMetric struct {
	ID           string    `json:"id"`
	CPUUsage     *float64  `json:"cpuUsage"`
	MemoryUsage  float64   `json:"memoryUsage"`
	Accuracy     float64   `json:"accuracy"`
	ResponseTime float64   `json:"responseTime"`
	ActiveModels int       `json:"activeModels"`
	ErrorRate    float64   `json:"errorRate"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

// AIControlSetting maps to the singleton `ai_control_settings` row.
type AIControlSetting struct {
	ID                  string    `json:"id"`
	SystemEnabled       bool      `json:"systemEnabled"`
	AutoResponse        bool      `json:"autoResponse"`
	KillSwitch          bool      `json:"killSwitch"`
	ActiveSystems       []string  `json:"activeSystems"`
	ConfidenceThreshold float64   `json:"confidenceThreshold"`
	RiskThreshold       float64   `json:"riskThreshold"`
	UpdatedAt           time.Time `json:"updatedAt"`
	UpdatedBy           *string   `json:"updatedBy"`
}

// AIChatMessage maps to the `ai_chat_messages` table.
type AIChatMessage struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Message     string    `json:"message"`
	Sender      Sender    `json:"sender"`
	Attachments any       `json:"attachments"`
	Timestamp   time.Time `json:"timestamp"`
}

// Classifier maps to the `classifiers` table.
type Classifier struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Type             string     `json:"type"`
	Accuracy         float64    `json:"accuracy"`
	Status           string     `json:"status"`
	TrainingDataSize int        `json:"trainingDataSize"`
	LastTrained      *time.Time `json:"lastTrained"`
	Description      *string    `json:"description"`
	CreatedAt        time.Time  `json:"createdAt"`
}
