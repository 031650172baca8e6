package controller

import (
	"learner_state_engine/internal/repository"
	"learner_state_engine/internal/util"

	"github.com/gin-gonic/gin"
)

// HistoryController serves the staff-facing submission history view: the
// merged legacy-plus-extended timeline of one learner on one block.
type HistoryController struct {
	States  *repository.StateRecordRepository
	History *repository.HistoryRepository
}

func NewHistoryController(states *repository.StateRecordRepository, history *repository.HistoryRepository) *HistoryController {
	return &HistoryController{States: states, History: history}
}

// SubmissionHistory returns every history row for (learner, block), newest
// first, each tagged with its source table.
func (c *HistoryController) SubmissionHistory(ctx *gin.Context) {
	learnerID := util.MustParseUint(ctx.Param("learnerID"))
	if learnerID == 0 {
		util.BadRequest(ctx, "bad learner id")
		return
	}
	courseID := ctx.Param("courseID")
	blockID := ctx.Query("block")
	if blockID == "" {
		util.BadRequest(ctx, "block query parameter is required")
		return
	}

	rec, err := c.States.GetAnyType(learnerID, courseID, blockID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	entries, err := c.History.ForStateRecords(rec.ID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{
		"stateRecordId": rec.ID,
		"entries":       entries,
	})
}
