package repository

import (
	"errors"
	"time"

	"learner_state_engine/internal/model"
	"learner_state_engine/internal/util"

	"gorm.io/gorm"
)

// EnrollmentRepository owns enrollment rows and the append-only audit log.
// Every state transition of an enrollment row writes exactly one audit row
// in the same transaction.
type EnrollmentRepository struct {
	DB *gorm.DB
}

func NewEnrollmentRepository(db *gorm.DB) *EnrollmentRepository {
	return &EnrollmentRepository{DB: db}
}

func (r *EnrollmentRepository) Get(learnerID uint, courseID string) (*model.Enrollment, error) {
	var e model.Enrollment
	err := r.DB.Where("learner_id = ? AND course_id = ?", learnerID, courseID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ActiveLearnerIDs lists learners actively enrolled in a course, for bulk
// fan-out and grade reports.
func (r *EnrollmentRepository) ActiveLearnerIDs(courseID string) ([]uint, error) {
	var ids []uint
	err := r.DB.Model(&model.Enrollment{}).
		Where("course_id = ? AND is_active = ?", courseID, true).
		Order("learner_id ASC").
		Pluck("learner_id", &ids).Error
	return ids, err
}

// Enroll activates (or creates) the learner's enrollment under mode and
// appends the matching audit row. The transition tag is derived from the
// prior state: absent/inactive row, active row with another mode, or active
// row already in mode (a recorded no-op).
func (r *EnrollmentRepository) Enroll(actorID, learnerID uint, email, courseID, mode, reason string) (string, error) {
	var transition string
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		var e model.Enrollment
		err := tx.Where("learner_id = ? AND course_id = ?", learnerID, courseID).First(&e).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			allowed, aerr := r.consumeAllowed(tx, email, courseID)
			if aerr != nil {
				return aerr
			}
			if allowed {
				transition = model.TransitionAllowedToEnrolled
			} else {
				transition = model.TransitionUnenrolledToEnrolled
			}
			e = model.Enrollment{LearnerID: learnerID, CourseID: courseID, Mode: mode, IsActive: true}
			if err := tx.Create(&e).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		case !e.IsActive:
			transition = model.TransitionUnenrolledToEnrolled
			e.IsActive = true
			e.Mode = mode
			if err := tx.Save(&e).Error; err != nil {
				return err
			}
		case e.Mode != mode:
			transition = model.TransitionEnrolledToEnrolled
			e.Mode = mode
			if err := tx.Save(&e).Error; err != nil {
				return err
			}
		default:
			// Idempotent re-enroll: nothing changes, the no-op is recorded
			// so bulk tooling stays auditable.
			transition = model.TransitionUnenrolledToUnenrolled
		}
		return r.appendAudit(tx, actorID, &learnerID, email, courseID, transition, reason)
	})
	return transition, err
}

// Unenroll deactivates the enrollment and audits the transition.
func (r *EnrollmentRepository) Unenroll(actorID, learnerID uint, email, courseID, reason string) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var e model.Enrollment
		err := tx.Where("learner_id = ? AND course_id = ?", learnerID, courseID).First(&e).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrNotFound
		}
		if err != nil {
			return err
		}
		if !e.IsActive {
			return r.appendAudit(tx, actorID, &learnerID, email, courseID, model.TransitionUnenrolledToUnenrolled, reason)
		}
		e.IsActive = false
		if err := tx.Save(&e).Error; err != nil {
			return err
		}
		return r.appendAudit(tx, actorID, &learnerID, email, courseID, model.TransitionEnrolledToUnenrolled, reason)
	})
}

// Allow records that an email may enroll before its account exists, with the
// audit row in the same transaction. Idempotent.
func (r *EnrollmentRepository) Allow(actorID uint, email, courseID, reason string) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var existing model.EnrollmentAllowed
		err := tx.Where("email = ? AND course_id = ?", email, courseID).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(&model.EnrollmentAllowed{Email: email, CourseID: courseID}).Error; err != nil {
			return err
		}
		return r.appendAudit(tx, actorID, nil, email, courseID, model.TransitionUnenrolledToAllowed, reason)
	})
}

// RevokeAllowance withdraws a pending allowance so the email can no longer
// enroll on registration, auditing the withdrawal in the same transaction.
func (r *EnrollmentRepository) RevokeAllowance(actorID uint, email, courseID, reason string) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("email = ? AND course_id = ?", email, courseID).Delete(&model.EnrollmentAllowed{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return util.ErrNotFound
		}
		return r.appendAudit(tx, actorID, nil, email, courseID, model.TransitionAllowedToUnenrolled, reason)
	})
}

func (r *EnrollmentRepository) consumeAllowed(tx *gorm.DB, email, courseID string) (bool, error) {
	res := tx.Where("email = ? AND course_id = ?", email, courseID).Delete(&model.EnrollmentAllowed{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *EnrollmentRepository) appendAudit(tx *gorm.DB, actorID uint, learnerID *uint, email, courseID, transition, reason string) error {
	return tx.Create(&model.EnrollmentAudit{
		ActorID:    actorID,
		Email:      email,
		LearnerID:  learnerID,
		CourseID:   courseID,
		Transition: transition,
		Reason:     reason,
	}).Error
}

// AuditForLearner reads audit rows for (course, learner), newest first.
func (r *EnrollmentRepository) AuditForLearner(courseID string, learnerID uint) ([]model.EnrollmentAudit, error) {
	var rows []model.EnrollmentAudit
	err := r.DB.Where("course_id = ? AND learner_id = ?", courseID, learnerID).
		Order("created_at DESC, id DESC").Find(&rows).Error
	return rows, err
}

// AuditForRange reads audit rows for a course within [from, to).
func (r *EnrollmentRepository) AuditForRange(courseID string, from, to time.Time) ([]model.EnrollmentAudit, error) {
	var rows []model.EnrollmentAudit
	err := r.DB.Where("course_id = ? AND created_at >= ? AND created_at < ?", courseID, from, to).
		Order("created_at ASC, id ASC").Find(&rows).Error
	return rows, err
}

// Modes lists the offered modes for a course.
func (r *EnrollmentRepository) Modes(courseID string) ([]model.CourseMode, error) {
	var modes []model.CourseMode
	err := r.DB.Where("course_id = ?", courseID).Find(&modes).Error
	return modes, err
}
