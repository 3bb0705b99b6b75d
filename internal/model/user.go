// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data — similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// User represents a locally persisted user record.
//
// TWO KINDS OF IDENTITY:
// Every record carries our own internal string ID (xid) as the primary key,
// plus an optional ExternalID — the numeric id the upstream directory uses
// for the same person. We never make the upstream's numbering our primary
// key; it belongs to a third party and is only set once we've seen the user
// through the avatar flow.
//
// WHY POINTER FIELDS FOR Avatar / ExternalID?
// Both are genuinely optional: a record created through POST /users has
// neither until the first avatar fetch. A *string/*int64 distinguishes
// "never set" (nil) from "set to the zero value", and maps cleanly onto
// NULLable columns. Email and Name are required, so plain strings are fine.
type User struct {
	ID           string    `json:"id"                    db:"id"`
	Email        string    `json:"email"                 db:"email"` // Unique — natural key for conflict detection
	Name         string    `json:"name"                  db:"name"`
	Avatar       *string   `json:"avatar,omitempty"      db:"avatar"`        // Cached avatar filename (basename of the upstream URL)
	AvatarSource *string   `json:"-"                     db:"avatar_source"` // Upstream URL the cached file was downloaded from
	ExternalID   *int64    `json:"externalId,omitempty"  db:"external_id"`   // The upstream directory's numeric user id
	CreatedAt    time.Time `json:"createdAt"             db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt"             db:"updated_at"`
}
