package service

import (
	"fmt"
	"math"
	"strings"

	"learner_state_engine/internal/content"
	"learner_state_engine/internal/location"
	"learner_state_engine/internal/model"
	"learner_state_engine/internal/repository"
	"learner_state_engine/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RepairService fixes state rows whose course id carries a historical
// trailing newline. Each dirty row either moves under the clean id, merges
// with its clean twin, or is archived under a ticket-tagged run when merging
// would be unsafe.
type RepairService struct {
	DB     *gorm.DB
	States *repository.StateRecordRepository
	Ticket string
}

func NewRepairService(db *gorm.DB, states *repository.StateRecordRepository, ticket string) *RepairService {
	return &RepairService{DB: db, States: states, Ticket: ticket}
}

// RepairOutcome tags what happened to one dirty row.
type RepairOutcome string

const (
	OutcomeRenamed  RepairOutcome = "renamed"  // no twin, course id stripped in place
	OutcomeMerged   RepairOutcome = "merged"   // winner's content now under the clean id
	OutcomeArchived RepairOutcome = "archived" // dirty row parked, clean row untouched
)

// RepairReport summarizes one full repair run.
type RepairReport struct {
	Total    int `json:"total"`
	Renamed  int `json:"renamed"`
	Merged   int `json:"merged"`
	Archived int `json:"archived"`
	Failed   int `json:"failed"`
}

// Run scans for dirty rows and repairs each in its own transaction, so one
// bad pair never blocks the rest.
func (s *RepairService) Run() (*RepairReport, error) {
	dirty, err := s.States.DirtyCourseRows()
	if err != nil {
		return nil, err
	}
	report := &RepairReport{Total: len(dirty)}
	for i := range dirty {
		outcome, err := s.RepairRow(&dirty[i])
		if err != nil {
			report.Failed++
			logger.Log.Error("course id repair failed",
				zap.Uint("stateRecord", dirty[i].ID), zap.Error(err))
			continue
		}
		switch outcome {
		case OutcomeRenamed:
			report.Renamed++
		case OutcomeMerged:
			report.Merged++
		case OutcomeArchived:
			report.Archived++
		}
	}
	return report, nil
}

// RepairRow handles one dirty row inside a single transaction. With no clean
// twin the newline is simply stripped. With a twin, the winner (higher grade,
// then newer modification) replaces the clean row's content and the dirty row
// is archived. Capa problems are decided differently: each side's score is
// re-derived from its raw state, the higher derived score wins and its
// derived grade pair is what lands on the clean row; when neither derived
// score reproduces a stored grade the pair is untrustworthy and the dirty row
// is archived without touching the clean one.
func (s *RepairService) RepairRow(dirty *model.StateRecord) (RepairOutcome, error) {
	cleanCourseID := strings.TrimRight(dirty.CourseID, "\n")
	twin, err := s.States.Twin(dirty, cleanCourseID)
	if err != nil {
		return "", err
	}

	if twin == nil {
		err := s.DB.Model(&model.StateRecord{}).Where("id = ?", dirty.ID).
			Update("course_id", cleanCourseID).Error
		if err != nil {
			return "", err
		}
		return OutcomeRenamed, nil
	}

	var (
		merge         bool
		dirtyWins     bool
		mergeState    string
		mergeGrade    *float64
		mergeMaxGrade *float64
	)
	if dirty.ModuleType == model.ModuleTypeProblem {
		dirtyGrade, dirtyMax := deriveCapa(dirty)
		twinGrade, twinMax := deriveCapa(twin)
		if capaSane(dirty, twin, dirtyGrade, twinGrade) {
			merge = true
			if twinGrade == nil || (dirtyGrade != nil && *dirtyGrade > *twinGrade) {
				dirtyWins = true
				mergeState, mergeGrade, mergeMaxGrade = dirty.State, dirtyGrade, dirtyMax
			} else {
				mergeState, mergeGrade, mergeMaxGrade = twin.State, twinGrade, twinMax
			}
		}
	} else if pickWinner(dirty, twin) == dirty {
		merge = true
		dirtyWins = true
		mergeState, mergeGrade, mergeMaxGrade = dirty.State, dirty.Grade, dirty.MaxGrade
	}

	archiveID, err := s.archiveCourseID(cleanCourseID)
	if err != nil {
		return "", err
	}

	outcome := OutcomeArchived
	if dirtyWins {
		outcome = OutcomeMerged
	}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if merge {
			err := tx.Model(&model.StateRecord{}).Where("id = ?", twin.ID).
				Updates(map[string]interface{}{
					"state":     mergeState,
					"grade":     mergeGrade,
					"max_grade": mergeMaxGrade,
				}).Error
			if err != nil {
				return err
			}
		}
		return tx.Model(&model.StateRecord{}).Where("id = ?", dirty.ID).
			Update("course_id", archiveID).Error
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// pickWinner prefers the row with the higher grade, breaking ties with the
// newer modification time. The clean twin wins exact ties.
func pickWinner(dirty, twin *model.StateRecord) *model.StateRecord {
	dg, tg := gradeOrZero(dirty), gradeOrZero(twin)
	if dg > tg {
		return dirty
	}
	if dg < tg {
		return twin
	}
	if dirty.UpdatedAt.After(twin.UpdatedAt) {
		return dirty
	}
	return twin
}

func gradeOrZero(rec *model.StateRecord) float64 {
	if rec.Grade == nil {
		return 0
	}
	return *rec.Grade
}

// deriveCapa rescores the row's raw state; nil when no score can be derived
// from it.
func deriveCapa(rec *model.StateRecord) (*float64, *float64) {
	state, err := rec.StateMap()
	if err != nil {
		return nil, nil
	}
	return content.CapaScore(state)
}

// capaSane accepts a capa merge only when at least one re-derived score
// reproduces a grade stored on either row. A pair where rescoring matches
// nothing has drifted and must not overwrite the clean row.
func capaSane(dirty, twin *model.StateRecord, derived ...*float64) bool {
	for _, d := range derived {
		if d == nil {
			continue
		}
		for _, stored := range []*float64{dirty.Grade, twin.Grade} {
			if stored != nil && math.Abs(*d-*stored) < gradeEpsilon {
				return true
			}
		}
	}
	return false
}

// archiveCourseID parks the dirty row under a run no real course uses, keyed
// to the tracking ticket so the data stays recoverable.
func (s *RepairService) archiveCourseID(cleanCourseID string) (string, error) {
	key, err := location.ParseCourseKey(cleanCourseID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s_FIX_FOR_%s", key.Org, key.Course, key.Run, s.Ticket), nil
}
