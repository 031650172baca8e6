package model

import "time"

// Enrollment modes.
const (
	ModeAudit = "audit"
	ModeHonor = "honor"
)

type Enrollment struct {
	BaseModel
	LearnerID uint   `gorm:"uniqueIndex:uniq_enrollment;not null" json:"learnerId"`
	CourseID  string `gorm:"uniqueIndex:uniq_enrollment;size:255;not null" json:"courseId"`
	Mode      string `gorm:"size:32;not null;default:'audit'" json:"mode"`
	IsActive  bool   `gorm:"default:true" json:"isActive"`
}

func (Enrollment) TableName() string {
	return "enrollments"
}

// EnrollmentAllowed marks an email as cleared to enroll before the account
// exists. Consumed on first enrollment for the email.
type EnrollmentAllowed struct {
	BaseModel
	Email    string `gorm:"uniqueIndex:uniq_allowed;size:100;not null" json:"email"`
	CourseID string `gorm:"uniqueIndex:uniq_allowed;size:255;not null" json:"courseId"`
}

func (EnrollmentAllowed) TableName() string {
	return "enrollment_allowed"
}

// Transition tags for the enrollment audit. Every write path that changes an
// enrollment row appends exactly one of these in the same transaction.
const (
	TransitionUnenrolledToEnrolled   = "unenrolled_to_enrolled"
	TransitionEnrolledToUnenrolled   = "enrolled_to_unenrolled"
	TransitionEnrolledToEnrolled     = "enrolled_to_enrolled" // mode change
	TransitionUnenrolledToAllowed    = "unenrolled_to_allowed"
	TransitionAllowedToEnrolled      = "allowed_to_enrolled"
	TransitionAllowedToUnenrolled    = "allowed_to_unenrolled"
	TransitionUnenrolledToUnenrolled = "unenrolled_to_unenrolled" // recorded no-op
)

// EnrollmentAudit is append-only: never updated, never deleted by the
// application.
type EnrollmentAudit struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ActorID    uint      `gorm:"index" json:"actorId"`
	Email      string    `gorm:"size:100;not null" json:"email"`
	LearnerID  *uint     `gorm:"index" json:"learnerId"`
	CourseID   string    `gorm:"index;size:255;not null" json:"courseId"`
	Transition string    `gorm:"size:48;not null" json:"transition"`
	Reason     string    `gorm:"size:255" json:"reason"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

func (EnrollmentAudit) TableName() string {
	return "enrollment_audit"
}

// CourseMode describes an offered mode for a course. Bulk enrollment picks
// audit when an audit mode is active, otherwise the platform's paid default
// for priced white-label courses, otherwise honor.
type CourseMode struct {
	BaseModel
	CourseID  string     `gorm:"uniqueIndex:uniq_course_mode;size:255;not null" json:"courseId"`
	Mode      string     `gorm:"uniqueIndex:uniq_course_mode;size:32;not null" json:"mode"`
	MinPrice  float64    `gorm:"default:0" json:"minPrice"`
	Currency  string     `gorm:"size:8;default:'usd'" json:"currency"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (CourseMode) TableName() string {
	return "course_modes"
}

// Active reports whether the mode is currently offered.
func (m *CourseMode) Active(now time.Time) bool {
	return m.ExpiresAt == nil || m.ExpiresAt.After(now)
}
