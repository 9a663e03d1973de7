// File: internal/models/party.go
package models

import "time"

// User is the claimant; Address receives the minted credits
type User struct {
	ID        string    `json:"id" db:"id"`
	Address   string    `json:"address" db:"address"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Facility is the recycling site that verifies disposals
type Facility struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Address    string    `json:"address" db:"address"`
	EthAddress string    `json:"ethAddress" db:"eth_address"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// Classification is the AI classification result that an order was created from
type Classification struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"userId" db:"user_id"`
	WasteType  WasteType `json:"wasteType" db:"waste_type"`
	Confidence float64   `json:"confidence" db:"confidence"`
	ImageCID   string    `json:"imageCID" db:"image_cid"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}
