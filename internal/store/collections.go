package store

// Collections names every table the service reads and writes.
type Collections struct {
	Orders            Collection
	Idempotency       Collection
	ProcessedPayments Collection
	SplitSessions     Collection
	FailedWebhooks    Collection
	UnlinkedEvents    Collection
	Tabs              Collection
	Businesses        Collection
	Menus             Collection
}

// TableNames carries the configured table names.
type TableNames struct {
	Orders            string
	Idempotency       string
	ProcessedPayments string
	SplitSessions     string
	FailedWebhooks    string
	UnlinkedEvents    string
	Tabs              string
	Businesses        string
	Menus             string
}

// NewCollections binds table names to their partition keys.
func NewCollections(t TableNames) Collections {
	return Collections{
		Orders:            Collection{Table: t.Orders, Key: "order_id"},
		Idempotency:       Collection{Table: t.Idempotency, Key: "idempotency_key"},
		ProcessedPayments: Collection{Table: t.ProcessedPayments, Key: "payment_id"},
		SplitSessions:     Collection{Table: t.SplitSessions, Key: "session_id"},
		FailedWebhooks:    Collection{Table: t.FailedWebhooks, Key: "webhook_id"},
		UnlinkedEvents:    Collection{Table: t.UnlinkedEvents, Key: "payment_id"},
		Tabs:              Collection{Table: t.Tabs, Key: "tab_id"},
		Businesses:        Collection{Table: t.Businesses, Key: "business_id"},
		Menus:             Collection{Table: t.Menus, Key: "business_id"},
	}
}

// DefaultTableNames is used by local runs and tests.
func DefaultTableNames() TableNames {
	return TableNames{
		Orders:            "orders",
		Idempotency:       "idempotency_keys",
		ProcessedPayments: "processed_payments",
		SplitSessions:     "split_sessions",
		FailedWebhooks:    "failed_webhooks",
		UnlinkedEvents:    "unlinked_payment_events",
		Tabs:              "dine_in_tabs",
		Businesses:        "businesses",
		Menus:             "menus",
	}
}

// List returns every collection.
func (c Collections) List() []Collection {
	return []Collection{
		c.Orders, c.Idempotency, c.ProcessedPayments, c.SplitSessions,
		c.FailedWebhooks, c.UnlinkedEvents, c.Tabs, c.Businesses, c.Menus,
	}
}

// FailedWebhookStatusIndex is the GSI on failed_webhooks(status, created_at).
const FailedWebhookStatusIndex = "status-index"
