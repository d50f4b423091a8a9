package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by engine operations. Delivery-time errors are
// classified separately (see classify.go); these surface synchronously to the
// caller and are never retried.
var (
	ErrNotFound       = errors.New("campaign not found")
	ErrNoSubscription = errors.New("no active subscription")
	ErrReplyNotFound  = errors.New("reply not found")
)

// QuotaExceededError reports insufficient credits for the requested send.
type QuotaExceededError struct {
	Required  int
	Available int
	Daily     bool
}

func (e *QuotaExceededError) Error() string {
	if e.Daily {
		return fmt.Sprintf("daily quota exceeded: %d recipients requested, %d remaining today", e.Required, e.Available)
	}
	return fmt.Sprintf("quota exceeded: %d recipients requested, %d credits available", e.Required, e.Available)
}

// StateConflictError reports an operation attempted against a campaign in the
// wrong status.
type StateConflictError struct {
	CampaignID uint
	Status     string
	Operation  string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("cannot %s campaign %d in status %q", e.Operation, e.CampaignID, e.Status)
}

// ConcurrentCampaignError reports that the owner already has a campaign
// processing. One processing campaign per owner at a time.
type ConcurrentCampaignError struct {
	ActiveID   uint
	ActiveName string
}

func (e *ConcurrentCampaignError) Error() string {
	return fmt.Sprintf("campaign %d (%s) is still processing", e.ActiveID, e.ActiveName)
}
