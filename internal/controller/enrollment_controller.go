package controller

import (
	"time"

	"learner_state_engine/internal/repository"
	"learner_state_engine/internal/service"
	"learner_state_engine/internal/util"
	"learner_state_engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EnrollmentController handles roster uploads, single enrollment changes and
// the audit views.
type EnrollmentController struct {
	Enrollments *repository.EnrollmentRepository
	Users       *repository.UserRepository
	Service     *service.EnrollmentService
	Storage     *service.StorageService
}

func NewEnrollmentController(enrollments *repository.EnrollmentRepository, users *repository.UserRepository, svc *service.EnrollmentService, storage *service.StorageService) *EnrollmentController {
	return &EnrollmentController{Enrollments: enrollments, Users: users, Service: svc, Storage: storage}
}

// UploadRoster archives the raw CSV, parses it and enrolls every row. The
// response carries per-row outcomes up to the reporting cap.
func (c *EnrollmentController) UploadRoster(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	courseID := ctx.Param("courseID")

	fileHeader, err := ctx.FormFile("roster")
	if err != nil {
		util.BadRequest(ctx, "roster file is required")
		return
	}

	// Archive first so a failed parse can be replayed from the original.
	archive, err := fileHeader.Open()
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	archiveURL, err := c.Storage.ArchiveRoster(ctx.Request.Context(), courseID, fileHeader.Filename, archive, fileHeader.Size)
	archive.Close()
	if err != nil {
		logger.Log.Warn("roster archive failed, continuing",
			zap.String("course", courseID), zap.Error(err))
	}

	upload, err := fileHeader.Open()
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	defer upload.Close()

	rows, parseErrors, err := c.Service.ParseRoster(fileHeader.Filename, upload)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	result, err := c.Service.EnrollRoster(user.UserID, courseID, rows, parseErrors)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"archive": archiveURL, "result": result})
}

type enrollRequest struct {
	LearnerID uint   `json:"learnerId" binding:"required"`
	Mode      string `json:"mode"`
	Reason    string `json:"reason"`
}

// Enroll activates one learner's enrollment.
func (c *EnrollmentController) Enroll(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	var req enrollRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	learner, err := c.Users.FindByID(req.LearnerID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	mode := req.Mode
	if mode == "" {
		mode, err = c.Service.ResolveMode(ctx.Param("courseID"), time.Now())
		if err != nil {
			util.RespondError(ctx, err)
			return
		}
	}
	transition, err := c.Enrollments.Enroll(user.UserID, learner.ID, learner.Email, ctx.Param("courseID"), mode, req.Reason)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"transition": transition, "mode": mode})
}

// Unenroll deactivates one learner's enrollment.
func (c *EnrollmentController) Unenroll(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	var req enrollRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	learner, err := c.Users.FindByID(req.LearnerID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	if err := c.Enrollments.Unenroll(user.UserID, learner.ID, learner.Email, ctx.Param("courseID"), req.Reason); err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

type allowanceRequest struct {
	Email  string `json:"email" binding:"required,email"`
	Reason string `json:"reason"`
}

// RevokeAllowance withdraws a pre-registration enrollment allowance.
func (c *EnrollmentController) RevokeAllowance(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	var req allowanceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if err := c.Enrollments.RevokeAllowance(user.UserID, req.Email, ctx.Param("courseID"), req.Reason); err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// LearnerAudit returns the transition log of one learner in one course,
// newest first.
func (c *EnrollmentController) LearnerAudit(ctx *gin.Context) {
	learnerID := util.MustParseUint(ctx.Param("learnerID"))
	if learnerID == 0 {
		util.BadRequest(ctx, "bad learner id")
		return
	}
	rows, err := c.Enrollments.AuditForLearner(ctx.Param("courseID"), learnerID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"entries": rows})
}

// RangeAudit returns the course's transition log within [from, to), both
// bounds RFC 3339.
func (c *EnrollmentController) RangeAudit(ctx *gin.Context) {
	from, err := time.Parse(time.RFC3339, ctx.Query("from"))
	if err != nil {
		util.BadRequest(ctx, "bad from timestamp")
		return
	}
	to, err := time.Parse(time.RFC3339, ctx.Query("to"))
	if err != nil {
		util.BadRequest(ctx, "bad to timestamp")
		return
	}
	rows, err := c.Enrollments.AuditForRange(ctx.Param("courseID"), from, to)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"entries": rows})
}
