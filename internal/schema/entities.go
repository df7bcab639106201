package schema

// Enumerated values shared with the model layer.
var (
	UserRoles       = []string{"admin", "analyst", "user"}
	ClientStatuses  = []string{"active", "inactive", "pending"}
	SiteStatuses    = []string{"active", "inactive", "maintenance"}
	TestStatuses    = []string{"pending", "in-progress", "completed", "failed"}
	Severities      = []string{"critical", "high", "medium", "low"}
	LogActions      = []string{"created", "updated", "deleted", "login", "logout"}
	HealthStatuses  = []string{"healthy", "degraded", "critical"}
	ChatSenders     = []string{"user", "ai"}
	ClassifierState = []string{"active", "training", "inactive"}
)

func idField() Field {
	return Field{Name: "id", Column: "id", Kind: KindString, Managed: ManagedID}
}

func createdField(name, column string) Field {
	return Field{Name: name, Column: column, Kind: KindTime, Managed: ManagedCreated}
}

var Users = define(&Entity{
	Name:    "users",
	Type:    "user",
	Table:   "users",
	Audited: true,
	Summary: []string{"username", "role"},
	Fields: []Field{
		idField(),
		{Name: "username", Column: "username", Kind: KindString, Required: true, Unique: true},
		{Name: "password", Column: "password", Kind: KindString, Required: true},
		{Name: "role", Column: "role", Kind: KindString, Enum: UserRoles, Default: "user"},
		{Name: "email", Column: "email", Kind: KindString, Nullable: true},
		{Name: "isActive", Column: "is_active", Kind: KindBool, Default: true},
		createdField("createdAt", "created_at"),
	},
})

var Clients = define(&Entity{
	Name:    "clients",
	Type:    "client",
	Table:   "clients",
	Audited: true,
	Summary: []string{"name", "company"},
	Fields: []Field{
		idField(),
		{Name: "name", Column: "name", Kind: KindString, Required: true},
		{Name: "company", Column: "company", Kind: KindString, Required: true},
		{Name: "email", Column: "email", Kind: KindString, Required: true},
		{Name: "phone", Column: "phone", Kind: KindString, Nullable: true},
		{Name: "status", Column: "status", Kind: KindString, Enum: ClientStatuses, Default: "active"},
		{Name: "notes", Column: "notes", Kind: KindText, Nullable: true},
		createdField("createdAt", "created_at"),
		{Name: "lastTestDate", Column: "last_test_date", Kind: KindTime, Nullable: true},
	},
})

var Sites = define(&Entity{
	Name:  "sites",
	Type:  "site",
	Table: "sites",
	Fields: []Field{
		idField(),
		{Name: "clientId", Column: "client_id", Kind: KindString, Required: true, Indexed: true},
		{Name: "url", Column: "url", Kind: KindString, Required: true},
		{Name: "name", Column: "name", Kind: KindString, Required: true},
		{Name: "environment", Column: "environment", Kind: KindString, Default: "production"},
		{Name: "status", Column: "status", Kind: KindString, Enum: SiteStatuses, Default: "active"},
		createdField("createdAt", "created_at"),
	},
})

var Tests = define(&Entity{
	Name:    "tests",
	Type:    "test",
	Table:   "tests",
	Audited: true,
	Summary: []string{"testType", "clientId"},
	Fields: []Field{
		idField(),
		{Name: "clientId", Column: "client_id", Kind: KindString, Required: true, Indexed: true},
		{Name: "siteId", Column: "site_id", Kind: KindString, Nullable: true, Indexed: true},
		{Name: "testType", Column: "test_type", Kind: KindString, Required: true},
		{Name: "status", Column: "status", Kind: KindString, Enum: TestStatuses, Default: "pending"},
		{Name: "severity", Column: "severity", Kind: KindString, Enum: Severities, Nullable: true},
		{Name: "startedAt", Column: "started_at", Kind: KindTime, Nullable: true},
		{Name: "completedAt", Column: "completed_at", Kind: KindTime, Nullable: true},
		{Name: "findings", Column: "findings", Kind: KindJSON, Shape: ShapeObject, Default: map[string]any{}},
		{Name: "criticalCount", Column: "critical_count", Kind: KindInt, NonNegative: true, Default: int64(0)},
		{Name: "highCount", Column: "high_count", Kind: KindInt, NonNegative: true, Default: int64(0)},
		{Name: "mediumCount", Column: "medium_count", Kind: KindInt, NonNegative: true, Default: int64(0)},
		{Name: "lowCount", Column: "low_count", Kind: KindInt, NonNegative: true, Default: int64(0)},
		{Name: "vulnerabilitiesFound", Column: "vulnerabilities_found", Kind: KindInt, NonNegative: true, Default: int64(0)},
		{Name: "executedBy", Column: "executed_by", Kind: KindString, Nullable: true},
		createdField("createdAt", "created_at"),
	},
})

var Documents = define(&Entity{
	Name:    "documents",
	Type:    "document",
	Table:   "documents",
	Audited: true,
	Summary: []string{"title", "documentType"},
	Fields: []Field{
		idField(),
		{Name: "clientId", Column: "client_id", Kind: KindString, Required: true, Indexed: true},
		{Name: "title", Column: "title", Kind: KindString, Required: true},
		{Name: "description", Column: "description", Kind: KindText, Nullable: true},
		{Name: "documentType", Column: "document_type", Kind: KindString, Required: true},
		{Name: "fileUrl", Column: "file_url", Kind: KindString, Nullable: true},
		createdField("createdAt", "created_at"),
		{Name: "updatedAt", Column: "updated_at", Kind: KindTime, Managed: ManagedUpdated},
		{Name: "createdBy", Column: "created_by", Kind: KindString, Nullable: true},
	},
})

var ActivityLogs = define(&Entity{
	Name:    "logs",
	Type:    "log",
	Table:   "activity_logs",
	OrderBy: "timestamp",
	Fields: []Field{
		idField(),
		{Name: "action", Column: "action", Kind: KindString, Required: true, Enum: LogActions},
		{Name: "entityType", Column: "entity_type", Kind: KindString, Required: true, Indexed: true},
		{Name: "entityId", Column: "entity_id", Kind: KindString, Nullable: true, Indexed: true},
		{Name: "userId", Column: "user_id", Kind: KindString, Nullable: true},
		{Name: "details", Column: "details", Kind: KindJSON, Nullable: true},
		{Name: "ipAddress", Column: "ip_address", Kind: KindString, Nullable: true},
		{Name: "timestamp", Column: "timestamp", Kind: KindTime, Managed: ManagedCreated, Indexed: true},
	},
})

var HealthMetrics = define(&Entity{
	Name:    "ai-health",
	Type:    "ai_health",
	Table:   "ai_health_metrics",
	OrderBy: "timestamp",
	Fields: []Field{
		idField(),
		{Name: "cpuUsage", Column: "cpu_usage", Kind: KindFloat, Nullable: true},
		{Name: "memoryUsage", Column: "memory_usage", Kind: KindFloat, Default: float64(0)},
		{Name: "accuracy", Column: "accuracy", Kind: KindFloat, Default: float64(0)},
		{Name: "responseTime", Column: "response_time", Kind: KindFloat, Default: float64(0)},
		{Name: "activeModels", Column: "active_models", Kind: KindInt, NonNegative: true, Default: int64(0)},
		{Name: "errorRate", Column: "error_rate", Kind: KindFloat, Default: float64(0)},
		{Name: "status", Column: "status", Kind: KindString, Enum: HealthStatuses, Default: "healthy"},
		{Name: "timestamp", Column: "timestamp", Kind: KindTime, Managed: ManagedCreated, Indexed: true},
	},
})

var ControlSettings = define(&Entity{
	Name:    "ai-control",
	Type:    "ai_control",
	Table:   "ai_control_settings",
	Audited: true,
	Fields: []Field{
		idField(),
		{Name: "systemEnabled", Column: "system_enabled", Kind: KindBool, Default: true},
		{Name: "autoResponse", Column: "auto_response", Kind: KindBool, Default: false},
		{Name: "killSwitch", Column: "kill_switch", Kind: KindBool, Default: false},
		{Name: "activeSystems", Column: "active_systems", Kind: KindJSON, Shape: ShapeStringList, Default: []any{}},
		{Name: "confidenceThreshold", Column: "confidence_threshold", Kind: KindFloat, Default: 0.85},
		{Name: "riskThreshold", Column: "risk_threshold", Kind: KindFloat, Default: 0.7},
		{Name: "updatedAt", Column: "updated_at", Kind: KindTime, Managed: ManagedUpdated},
		{Name: "updatedBy", Column: "updated_by", Kind: KindString, Nullable: true},
	},
})

var ChatMessages = define(&Entity{
	Name:  "chat",
	Type:  "chat_message",
	Table: "ai_chat_messages",
	Fields: []Field{
		idField(),
		{Name: "userId", Column: "user_id", Kind: KindString, Required: true, Indexed: true},
		{Name: "message", Column: "message", Kind: KindText, Required: true},
		{Name: "sender", Column: "sender", Kind: KindString, Required: true, Enum: ChatSenders},
		{Name: "attachments", Column: "attachments", Kind: KindJSON, Nullable: true},
		createdField("timestamp", "timestamp"),
	},
})

var Classifiers = define(&Entity{
	Name:    "classifiers",
	Type:    "classifier",
	Table:   "classifiers",
	Audited: true,
	Summary: []string{"name", "type"},
	Fields: []Field{
		idField(),
		{Name: "name", Column: "name", Kind: KindString, Required: true},
		{Name: "type", Column: "type", Kind: KindString, Required: true},
		{Name: "accuracy", Column: "accuracy", Kind: KindFloat, Default: float64(0)},
		{Name: "status", Column: "status", Kind: KindString, Enum: ClassifierState, Default: "active"},
		{Name: "trainingDataSize", Column: "training_data_size", Kind: KindInt, NonNegative: true, Default: int64(0)},
		{Name: "lastTrained", Column: "last_trained", Kind: KindTime, Nullable: true},
		{Name: "description", Column: "description", Kind: KindText, Nullable: true},
		createdField("createdAt", "created_at"),
	},
})

// All lists every entity in dependency order.
var All = []*Entity{
	Users, Clients, Sites, Tests, Documents, ActivityLogs,
	HealthMetrics, ControlSettings, ChatMessages, Classifiers,
}
