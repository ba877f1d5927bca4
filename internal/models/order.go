package models

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Order is one row of the user's order history
type Order struct {
	RestaurantName string  `json:"restaurantName" validate:"required"`
	Date           string  `json:"date" validate:"required"`
	Time           string  `json:"time"`
	Total          float64 `json:"total" validate:"gte=0"`
	Canceled       bool    `json:"canceled"`
}

// OrderSet is the extraction result handed to the result sink.
// It is produced once per job and never mutated afterwards.
type OrderSet struct {
	Orders []Order `json:"orders" validate:"required,dive"`
}

// StoredOrderSet is an OrderSet persisted by a result sink
type StoredOrderSet struct {
	Key       string   `json:"key" badgerhold:"key"`
	UserEmail string   `json:"userEmail" badgerhold:"index"`
	RunID     string   `json:"runId"`
	Orders    OrderSet `json:"result"`
	StoredAt  int64    `json:"storedAt"`
}

// Validate validates the set using go-playground/validator.
// An empty list is valid, a missing list is not.
func (s *OrderSet) Validate() error {
	if s == nil {
		return fmt.Errorf("order set is nil")
	}
	validate := validator.New()
	return validate.Struct(s)
}

// DecodeOrderSet unmarshals and validates provider output
func DecodeOrderSet(data []byte) (*OrderSet, error) {
	var set OrderSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to decode orders: %w", err)
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("orders failed validation: %w", err)
	}
	return &set, nil
}

// ExtractionResult is the payload published when a run completes
type ExtractionResult struct {
	UserEmail string
	RunID     string
	ResultKey string
	Orders    *OrderSet
}
