package models

import "time"

// User is the identity record owned by the auth core. RefreshTokenHash is the
// digest of the only refresh token currently accepted for the user; nil means
// there is no active session.
type User struct {
	ID               uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Email            string    `gorm:"uniqueIndex;not null"     json:"email"`
	PasswordHash     string    `gorm:"not null"                 json:"-"`
	FullName         string    `gorm:"not null"                 json:"fullName"`
	RefreshTokenHash *string   `gorm:"size:128"                 json:"-"`
	CreatedAt        time.Time `                                json:"createdAt"`
	UpdatedAt        time.Time `                                json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

// HasSession reports whether a refresh token digest is stored.
func (u *User) HasSession() bool {
	return u.RefreshTokenHash != nil && *u.RefreshTokenHash != ""
}
