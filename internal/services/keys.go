package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ticket-inventory/internal/status"
	"ticket-inventory/internal/store"
	"ticket-inventory/models"
)

// Store layout.
//
//	event:{id}                 published Event
//	event:{id}:available       available_tickets counter
//	event:{id}:tickets         index of ticket ids, scored by sequence
//	event:{id}:provisioning    ProvisioningRecord, present until published
//	ticket:{event}:{ticket}    Ticket
//	purchase:{id}              Purchase
//	user:{id}:purchases        index of purchase ids, scored by purchase time
const (
	eventsIndex       = "events"
	holdsIndex        = "holds"
	provisioningIndex = "provisioning"
)

func eventKey(eventID string) string { return "event:" + eventID }
func availableKey(eventID string) string { return "event:" + eventID + ":available" }
func eventTicketsIndex(eventID string) string { return "event:" + eventID + ":tickets" }
func provisioningKey(eventID string) string { return "event:" + eventID + ":provisioning" }
func purchaseKey(purchaseID string) string { return "purchase:" + purchaseID }
func userPurchasesIndex(userID string) string { return "user:" + userID + ":purchases" }

func ticketKey(eventID, ticketID string) string {
	return "ticket:" + eventID + ":" + ticketID
}

func holdMember(eventID, ticketID string) string {
	return eventID + "/" + ticketID
}

func parseHoldMember(member string) (eventID, ticketID string, ok bool) {
	eventID, ticketID, ok = strings.Cut(member, "/")
	return eventID, ticketID, ok && eventID != "" && ticketID != ""
}

func decode[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return &v, nil
}

// loadTicket reads a ticket inside a transaction.
func loadTicket(tx store.Tx, eventID, ticketID string) (*models.Ticket, error) {
	data, err := tx.Get(ticketKey(eventID, ticketID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, status.ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode[models.Ticket](data)
}

func putJSON(w store.Writer, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	w.Put(key, data)
	return nil
}
