package domain

import "time"

type User struct {
	ID        UserID
	Username  string
	CreatedAt time.Time
}

type UserRole string

const (
	RoleAdmin  UserRole = "admin"
	RoleViewer UserRole = "viewer"
)
