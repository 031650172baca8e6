package controller

import (
	"context"
	"errors"
	"time"

	"learner_state_engine/internal/model"
	"learner_state_engine/internal/service"
	"learner_state_engine/internal/util"
	"learner_state_engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminController exposes the instructor mutators. Single-learner operations
// run inline and return a result code; bulk operations are submit-and-poll:
// submission returns the task id, progress and outcome are fetched from the
// task record.
type AdminController struct {
	Courses *service.CourseService
	Admin   *service.AdminService
	Tasks   taskReader
}

type taskReader interface {
	Get(id string) (*model.TaskRecord, error)
	RequestCancel(id string) error
}

func NewAdminController(courses *service.CourseService, admin *service.AdminService, tasks taskReader) *AdminController {
	return &AdminController{Courses: courses, Admin: admin, Tasks: tasks}
}

type mutatorRequest struct {
	LearnerID uint   `json:"learnerId" binding:"required"`
	BlockID   string `json:"blockId" binding:"required"`
}

func resultCode(err error) string {
	switch {
	case err == nil:
		return model.ResultSuccess
	case errors.Is(err, util.ErrNotFound):
		return model.ResultNotFound
	case errors.Is(err, util.ErrAlreadyRunning):
		return model.ResultAlreadyRunning
	case errors.Is(err, util.ErrInvalidInput):
		return model.ResultInvalidInput
	case errors.Is(err, util.ErrPermissionDenied):
		return model.ResultForbidden
	}
	return ""
}

func respondMutator(ctx *gin.Context, err error) {
	if code := resultCode(err); code != "" {
		if err != nil {
			util.Success(ctx, gin.H{"result": code, "detail": err.Error()})
			return
		}
		util.Success(ctx, gin.H{"result": code})
		return
	}
	util.RespondError(ctx, err)
}

// ResetAttempts zeroes one learner's attempt counter on one block.
func (c *AdminController) ResetAttempts(ctx *gin.Context) {
	var req mutatorRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	respondMutator(ctx, c.Admin.ResetAttempts(ctx.Request.Context(), ctx.Param("courseID"), req.LearnerID, req.BlockID))
}

// DeleteState removes one learner's state row for one block.
func (c *AdminController) DeleteState(ctx *gin.Context) {
	var req mutatorRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	respondMutator(ctx, c.Admin.DeleteState(ctx.Request.Context(), ctx.Param("courseID"), req.LearnerID, req.BlockID))
}

// Rescore re-derives one learner's grade pair on one block.
func (c *AdminController) Rescore(ctx *gin.Context) {
	var req mutatorRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	tree, err := c.Courses.Tree(ctx.Param("courseID"))
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	err = c.Admin.Rescore(ctx.Request.Context(), tree, req.LearnerID, req.BlockID)
	if errors.Is(err, service.ErrRescoreSkipped) {
		util.Success(ctx, gin.H{"result": "skipped", "detail": err.Error()})
		return
	}
	respondMutator(ctx, err)
}

type bulkRequest struct {
	Operation   string `json:"operation" binding:"required"`
	BlockID     string `json:"blockId"`
	AllLearners bool   `json:"allLearners"`
	LearnerID   *uint  `json:"learnerId"`
}

// SubmitBulk registers a bulk operation and starts its fan-out in the
// background. The response carries the task id to poll.
func (c *AdminController) SubmitBulk(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	var req bulkRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	tree, err := c.Courses.Tree(ctx.Param("courseID"))
	if err != nil {
		util.RespondError(ctx, err)
		return
	}

	task, err := c.Admin.SubmitBulk(ctx.Request.Context(), service.BulkRequest{
		Operation:   req.Operation,
		CourseID:    tree.CourseID,
		BlockID:     req.BlockID,
		AllLearners: req.AllLearners,
		LearnerID:   req.LearnerID,
		RequesterID: user.UserID,
	})
	if err != nil {
		respondMutator(ctx, err)
		return
	}

	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if err := c.Admin.RunBulk(runCtx, task, tree); err != nil {
			logger.Log.Error("bulk operation run failed",
				zap.String("task", task.ID), zap.Error(err))
		}
	}()

	util.Created(ctx, gin.H{"taskId": task.ID, "status": task.Status})
}

// TaskStatus polls one task's progress counters and collected errors.
func (c *AdminController) TaskStatus(ctx *gin.Context) {
	task, err := c.Tasks.Get(ctx.Param("taskID"))
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{
		"taskId":    task.ID,
		"operation": task.Operation,
		"status":    task.Status,
		"total":     task.Total,
		"attempted": task.Attempted,
		"succeeded": task.Succeeded,
		"failed":    task.Failed,
		"skipped":   task.Skipped,
		"errors":    task.ErrorList(),
	})
}

// CancelTask asks a running bulk operation to stop at its next unit boundary.
func (c *AdminController) CancelTask(ctx *gin.Context) {
	if err := c.Tasks.RequestCancel(ctx.Param("taskID")); err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"canceled": true})
}

type dueExtensionRequest struct {
	LearnerID uint      `json:"learnerId" binding:"required"`
	BlockID   string    `json:"blockId" binding:"required"`
	Due       time.Time `json:"due" binding:"required"`
}

// SetDueExtension grants a per-learner due date on one block.
func (c *AdminController) SetDueExtension(ctx *gin.Context) {
	var req dueExtensionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	tree, err := c.Courses.Tree(ctx.Param("courseID"))
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	if err := c.Admin.SetDueExtension(ctx.Request.Context(), tree, req.LearnerID, req.BlockID, req.Due); err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// ClearDueExtension restores the authored due date.
func (c *AdminController) ClearDueExtension(ctx *gin.Context) {
	var req mutatorRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	tree, err := c.Courses.Tree(ctx.Param("courseID"))
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	if err := c.Admin.ClearDueExtension(ctx.Request.Context(), tree, req.LearnerID, req.BlockID); err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}
