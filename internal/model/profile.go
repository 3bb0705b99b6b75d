package model

import "strings"

// Profile is the canonical user data returned by the upstream directory API.
// It is transient — we never persist it as-is. The avatar flow maps it into
// a User record (FullName → Name, AvatarBasename → Avatar).
//
// The snake_case JSON tags match the upstream wire format exactly; the
// upstream owns this shape, not us.
type Profile struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Avatar    string `json:"avatar"` // Full URL of the profile image
}

// FullName joins the upstream's split name fields into our single Name field.
func (p *Profile) FullName() string {
	return p.FirstName + " " + p.LastName
}

// AvatarBasename returns the filename component of the avatar URL — the last
// path segment. This is what the file cache uses as the on-disk name.
//
// We split on "/" rather than using path.Base so that an empty avatar URL
// yields "" (path.Base would return "."), which callers treat as "no avatar".
func (p *Profile) AvatarBasename() string {
	if p.Avatar == "" {
		return ""
	}
	parts := strings.Split(p.Avatar, "/")
	return parts[len(parts)-1]
}
