package models

// ColumnInfo describes one column of the case-management schema.
type ColumnInfo struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// TableInfo describes one queryable table.
type TableInfo struct {
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description" yaml:"description"`
	Columns     []ColumnInfo `json:"columns" yaml:"columns"`
}

// Relationship is a foreign key between two tables.
type Relationship struct {
	FromTable   string `json:"fromTable" yaml:"from_table"`
	FromColumn  string `json:"fromColumn" yaml:"from_column"`
	ToTable     string `json:"toTable" yaml:"to_table"`
	ToColumn    string `json:"toColumn" yaml:"to_column"`
	Cardinality string `json:"cardinality" yaml:"cardinality"`
}

// TableExchangeParticipants links contacts to exchanges beyond the primary client.
const TableExchangeParticipants = "exchange_participants"

// CaseTables is the declared schema. It is the fallback for the schema catalog and the
// source of the validator's table allowlist.
var CaseTables = []TableInfo{
	{
		Name:        string(EntityExchanges),
		Description: "1031 exchanges: one row per case, with its statutory deadlines and amounts",
		Columns: []ColumnInfo{
			{Name: "id", Type: "uuid"},
			{Name: "exchange_number", Type: "text", Description: "human-readable case number"},
			{Name: "name", Type: "text"},
			{Name: "status", Type: "text", Description: "pending, active, in_progress, completed, cancelled, on_hold"},
			{Name: "client_id", Type: "uuid", Description: "primary client (contacts.id)"},
			{Name: "coordinator_id", Type: "uuid", Description: "assigned coordinator (users.id)"},
			{Name: "property_city", Type: "text"},
			{Name: "property_state", Type: "text", Description: "USPS state code"},
			{Name: "exchange_value", Type: "numeric"},
			{Name: "relinquished_sale_price", Type: "numeric"},
			{Name: "replacement_purchase_price", Type: "numeric"},
			{Name: "sale_date", Type: "date"},
			{Name: "identification_deadline", Type: "date", Description: "45 days after sale_date"},
			{Name: "completion_deadline", Type: "date", Description: "180 days after sale_date"},
			{Name: "created_at", Type: "timestamptz"},
			{Name: "updated_at", Type: "timestamptz"},
		},
	},
	{
		Name:        string(EntityContacts),
		Description: "clients and other external parties",
		Columns: []ColumnInfo{
			{Name: "id", Type: "uuid"},
			{Name: "first_name", Type: "text"},
			{Name: "last_name", Type: "text"},
			{Name: "company", Type: "text"},
			{Name: "display_name", Type: "text"},
			{Name: "email", Type: "text"},
			{Name: "city", Type: "text"},
			{Name: "state", Type: "text"},
			{Name: "created_at", Type: "timestamptz"},
		},
	},
	{
		Name:        string(EntityUsers),
		Description: "staff accounts, including exchange coordinators",
		Columns: []ColumnInfo{
			{Name: "id", Type: "uuid"},
			{Name: "first_name", Type: "text"},
			{Name: "last_name", Type: "text"},
			{Name: "display_name", Type: "text"},
			{Name: "email", Type: "text"},
			{Name: "role", Type: "text"},
			{Name: "is_active", Type: "boolean"},
			{Name: "created_at", Type: "timestamptz"},
		},
	},
	{
		Name:        string(EntityTasks),
		Description: "work items attached to exchanges",
		Columns: []ColumnInfo{
			{Name: "id", Type: "uuid"},
			{Name: "title", Type: "text"},
			{Name: "status", Type: "text", Description: "PENDING, IN_PROGRESS, COMPLETED, BLOCKED"},
			{Name: "priority", Type: "text"},
			{Name: "exchange_id", Type: "uuid"},
			{Name: "assigned_to", Type: "uuid", Description: "users.id"},
			{Name: "due_date", Type: "date"},
			{Name: "created_at", Type: "timestamptz"},
		},
	},
	{
		Name:        string(EntityDocuments),
		Description: "files uploaded to an exchange",
		Columns: []ColumnInfo{
			{Name: "id", Type: "uuid"},
			{Name: "exchange_id", Type: "uuid"},
			{Name: "file_name", Type: "text"},
			{Name: "category", Type: "text"},
			{Name: "uploaded_by", Type: "uuid"},
			{Name: "created_at", Type: "timestamptz"},
		},
	},
	{
		Name:        string(EntityMessages),
		Description: "chat messages on an exchange",
		Columns: []ColumnInfo{
			{Name: "id", Type: "uuid"},
			{Name: "exchange_id", Type: "uuid"},
			{Name: "sender_id", Type: "uuid"},
			{Name: "content", Type: "text"},
			{Name: "created_at", Type: "timestamptz"},
		},
	},
	{
		Name:        TableExchangeParticipants,
		Description: "additional contacts on an exchange (buyers, sellers, agents)",
		Columns: []ColumnInfo{
			{Name: "exchange_id", Type: "uuid"},
			{Name: "contact_id", Type: "uuid"},
			{Name: "role", Type: "text"},
		},
	},
}

// CaseRelationships are the declared foreign keys between CaseTables.
var CaseRelationships = []Relationship{
	{FromTable: "exchanges", FromColumn: "client_id", ToTable: "contacts", ToColumn: "id", Cardinality: "many-to-one"},
	{FromTable: "exchanges", FromColumn: "coordinator_id", ToTable: "users", ToColumn: "id", Cardinality: "many-to-one"},
	{FromTable: "tasks", FromColumn: "exchange_id", ToTable: "exchanges", ToColumn: "id", Cardinality: "many-to-one"},
	{FromTable: "tasks", FromColumn: "assigned_to", ToTable: "users", ToColumn: "id", Cardinality: "many-to-one"},
	{FromTable: "documents", FromColumn: "exchange_id", ToTable: "exchanges", ToColumn: "id", Cardinality: "many-to-one"},
	{FromTable: "documents", FromColumn: "uploaded_by", ToTable: "users", ToColumn: "id", Cardinality: "many-to-one"},
	{FromTable: "messages", FromColumn: "exchange_id", ToTable: "exchanges", ToColumn: "id", Cardinality: "many-to-one"},
	{FromTable: "messages", FromColumn: "sender_id", ToTable: "users", ToColumn: "id", Cardinality: "many-to-one"},
	{FromTable: "exchange_participants", FromColumn: "exchange_id", ToTable: "exchanges", ToColumn: "id", Cardinality: "many-to-one"},
	{FromTable: "exchange_participants", FromColumn: "contact_id", ToTable: "contacts", ToColumn: "id", Cardinality: "many-to-one"},
}

// AllowedTables returns the names of every queryable table.
func AllowedTables() []string {
	names := make([]string, len(CaseTables))
	for i, t := range CaseTables {
		names[i] = t.Name
	}
	return names
}
