package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tickettoken/settlement/pkg/db/models"
	"github.com/tickettoken/settlement/pkg/enums"
	"github.com/tickettoken/settlement/pkg/outbox"
)

// Streams let subscribers filter the settlement topic by attribute.
const (
	streamPayments = "payments"
	streamRefunds  = "refunds"
	streamPayouts  = "payouts"
)

// orderScope is what a message's ordering key is built from.
type orderScope int

const (
	// events touching one purchase, including its refunds, stay in order
	orderByPurchase orderScope = iota
	// payouts stay in order per venue
	orderByVenue
)

type route struct {
	stream string
	scope  orderScope
}

var routes = map[enums.OutboxEventType]route{
	enums.EventPaymentCompleted: {stream: streamPayments, scope: orderByPurchase},
	enums.EventPaymentFailed:    {stream: streamPayments, scope: orderByPurchase},
	enums.EventRefundRequested:  {stream: streamRefunds, scope: orderByPurchase},
	enums.EventRefundCompleted:  {stream: streamRefunds, scope: orderByPurchase},
	enums.EventRefundFailed:     {stream: streamRefunds, scope: orderByPurchase},
	enums.EventPayoutProcessed:  {stream: streamPayouts, scope: orderByVenue},
}

// subjectRefs are the identifiers every settlement payload may carry.
type subjectRefs struct {
	TransactionID *uuid.UUID `json:"transaction_id"`
	VenueID       *uuid.UUID `json:"venue_id"`
	TenantID      *uuid.UUID `json:"tenant_id"`
}

// routedMessage is an outbox row ready for the topic.
type routedMessage struct {
	OrderingKey string
	Attributes  map[string]string
}

// routeEvent builds attributes and the ordering key for event. Unknown event
// types are not retryable.
func routeEvent(event models.OutboxEvent, envelope outbox.PayloadEnvelope) (routedMessage, error) {
	rt, ok := routes[event.EventType]
	if !ok {
		return routedMessage{}, fmt.Errorf("%w: no route for event type %q", errNonRetryable, event.EventType)
	}

	var refs subjectRefs
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &refs); err != nil {
			return routedMessage{}, fmt.Errorf("%w: decode %s data: %v", errNonRetryable, event.EventType, err)
		}
	}
	if envelope.Source != nil {
		if refs.VenueID == nil {
			refs.VenueID = envelope.Source.VenueID
		}
		if refs.TenantID == nil {
			refs.TenantID = envelope.Source.TenantID
		}
	}
	if refs.TransactionID == nil && event.AggregateType == enums.AggregateTransaction {
		id := event.AggregateID
		refs.TransactionID = &id
	}

	attrs := map[string]string{
		"event_id":       envelope.EventID,
		"event_type":     string(event.EventType),
		"stream":         rt.stream,
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"schema_version": strconv.Itoa(envelope.Version),
		"created_at":     event.CreatedAt.Format(time.RFC3339Nano),
	}
	if !envelope.OccurredAt.IsZero() {
		attrs["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if refs.TransactionID != nil {
		attrs["transaction_id"] = refs.TransactionID.String()
	}
	if refs.VenueID != nil {
		attrs["venue_id"] = refs.VenueID.String()
	}
	if refs.TenantID != nil {
		attrs["tenant_id"] = refs.TenantID.String()
	}

	return routedMessage{
		OrderingKey: orderingKey(rt.scope, refs, event),
		Attributes:  attrs,
	}, nil
}

func orderingKey(scope orderScope, refs subjectRefs, event models.OutboxEvent) string {
	switch {
	case scope == orderByPurchase && refs.TransactionID != nil:
		return "purchase:" + refs.TransactionID.String()
	case scope == orderByVenue && refs.VenueID != nil:
		return "venue:" + refs.VenueID.String()
	default:
		return string(event.AggregateType) + ":" + event.AggregateID.String()
	}
}
