package models

import "time"

const (
	UserRoleAdmin  = "admin"
	UserRoleMember = "member"
)

// User exists only to resolve sessions to an operation. User management
// itself lives outside this service.
type User struct {
	ID          int       `gorm:"primary_key" json:"id"`
	Username    string    `gorm:"size:255;uniqueIndex;not null" json:"username"`
	OperationId string    `gorm:"size:64;index" json:"operation_id"`
	Role        string    `gorm:"size:20" json:"role"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
