package model

import (
	"time"
)

type UserRole string

const (
	Learner UserRole = "learner"
	Staff   UserRole = "staff"
	Admin   UserRole = "admin"
)

type User struct {
	BaseModel
	Username  string    `gorm:"size:100;unique;not null" json:"username"`
	Name      string    `gorm:"size:100" json:"name"`
	Email     string    `gorm:"size:100;unique;not null" json:"email"`
	Password  string    `gorm:"size:100;not null" json:"-"`
	Country   string    `gorm:"size:2" json:"country"`
	Role      UserRole  `gorm:"size:16;default:'learner'" json:"role"`
	Disabled  bool      `gorm:"default:false" json:"disabled"`
	LastLogin time.Time `json:"lastLogin"`
}

func (User) TableName() string {
	return "users"
}
