package models

// All lists every persisted model, in dependency order.
func All() []any {
	return []any{
		&VenueProfile{},
		&Transaction{},
		&Refund{},
		&VenueBalance{},
		&WebhookInboxEntry{},
		&OutboxEvent{},
	}
}
