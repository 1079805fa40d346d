package model

import "time"

// Tokens is an issued admin access token.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}
