// File: internal/models/job.go
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MintJob is the queue payload for a pending mint
type MintJob struct {
	OrderID     string  `json:"orderId"`
	UserAddress string  `json:"userAddress"`
	WeightKg    float64 `json:"weightKg"`
	WasteType   string  `json:"wasteType"`
}

// Validate checks the fields a job must carry before it reaches the chain
func (j *MintJob) Validate() error {
	switch {
	case strings.TrimSpace(j.OrderID) == "":
		return fmt.Errorf("orderId is required")
	case strings.TrimSpace(j.UserAddress) == "":
		return fmt.Errorf("userAddress is required")
	case j.WeightKg <= 0:
		return fmt.Errorf("weightKg must be positive")
	case strings.TrimSpace(j.WasteType) == "":
		return fmt.Errorf("wasteType is required")
	}
	return nil
}

// Encode serializes the job to its wire format
func (j *MintJob) Encode() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeMintJob parses a job from its wire format
func DecodeMintJob(payload string) (*MintJob, error) {
	var job MintJob
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, err
	}
	return &job, nil
}
