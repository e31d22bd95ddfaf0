// Package model contains the domain entities of the order sync engine.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// OrderStatus describes the local lifecycle state of an ingested order.
type OrderStatus string

const (
	// StatusReceivedFromSupplier is assigned on first ingestion of an order item.
	StatusReceivedFromSupplier OrderStatus = "RECEIVED_FROM_SUPPLIER"
	// StatusForwardedToFulfillment is set after the downstream consumer acknowledged the order.
	StatusForwardedToFulfillment OrderStatus = "FORWARDED_TO_FULFILLMENT"
	// StatusDuplicateSeen marks an order that the remote system reported again while already known locally.
	StatusDuplicateSeen OrderStatus = "DUPLICATE_SEEN"
	// StatusForwardFailed marks a failed forward attempt; the order stays eligible for retry.
	StatusForwardFailed OrderStatus = "FORWARD_FAILED"
)

// ErrIllegalTransition is returned when a status change is outside the transition table.
var ErrIllegalTransition = errors.New("illegal status transition")

// transitions lists the legal local status changes. Statuses outside this
// table (values passed through from the remote system) may only be marked
// as duplicates.
var transitions = map[OrderStatus][]OrderStatus{
	StatusReceivedFromSupplier:   {StatusForwardedToFulfillment, StatusForwardFailed, StatusDuplicateSeen},
	StatusForwardFailed:          {StatusForwardedToFulfillment, StatusForwardFailed, StatusDuplicateSeen},
	StatusForwardedToFulfillment: {},
	StatusDuplicateSeen:          {},
}

// IsTerminal reports whether no further local transitions are allowed from s.
func (s OrderStatus) IsTerminal() bool {
	targets, known := transitions[s]
	return known && len(targets) == 0
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to OrderStatus) bool {
	targets, known := transitions[from]
	if !known {
		// Remote pass-through status: duplicate marking is the only legal move.
		return to == StatusDuplicateSeen
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}

// CheckTransition validates a status change and returns ErrIllegalTransition when rejected.
func CheckTransition(from, to OrderStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// Order is one supplier-visible unit of work recorded in the ledger.
type Order struct {
	ExternalID string
	Status     OrderStatus
	Payload    json.RawMessage
	IngestedAt time.Time
}

// FileKind distinguishes the document types attached to an order item.
type FileKind string

const (
	FileKindDesign   FileKind = "design"
	FileKindJobsheet FileKind = "jobsheet"
)

// FileReference locates one design or jobsheet document. URL points at the
// locator endpoint, not at the file bytes themselves.
type FileReference struct {
	Kind FileKind
	Seq  int
	URL  string
}

type payloadLink struct {
	Href string `json:"href"`
}

type payloadLinks struct {
	Self     payloadLink `json:"self"`
	Jobsheet payloadLink `json:"jobsheet"`
}

type payloadDoc struct {
	OrderItemNumber string        `json:"orderItemNumber"`
	Status          string        `json:"status"`
	Designs         []payloadLink `json:"designs"`
	Links           payloadLinks  `json:"_links"`
}

// FileReferences extracts the ordered design and jobsheet locators embedded
// in the order payload. The jobsheet link is repeated per design index, which
// is how the supplier groups production documents.
func (o *Order) FileReferences() ([]FileReference, error) {
	var doc payloadDoc
	if err := json.Unmarshal(o.Payload, &doc); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}

	var refs []FileReference
	for i, d := range doc.Designs {
		seq := i + 1
		if d.Href != "" {
			refs = append(refs, FileReference{Kind: FileKindDesign, Seq: seq, URL: d.Href})
		}
		if doc.Links.Jobsheet.Href != "" {
			refs = append(refs, FileReference{Kind: FileKindJobsheet, Seq: seq, URL: doc.Links.Jobsheet.Href})
		}
	}
	return refs, nil
}
