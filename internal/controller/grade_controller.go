package controller

import (
	"learner_state_engine/internal/service"
	"learner_state_engine/internal/util"

	"github.com/gin-gonic/gin"
)

// GradeController serves course grades: a learner's own grade, a staff view
// of any learner, and the whole-course report.
type GradeController struct {
	Courses *service.CourseService
	Grading *service.GradingService
}

func NewGradeController(courses *service.CourseService, grading *service.GradingService) *GradeController {
	return &GradeController{Courses: courses, Grading: grading}
}

func (c *GradeController) course(ctx *gin.Context) (courseID string, ok bool) {
	courseID = ctx.Param("courseID")
	if courseID == "" {
		util.BadRequest(ctx, "course id is required")
		return "", false
	}
	return courseID, true
}

func (c *GradeController) computeFor(ctx *gin.Context, learnerID uint) {
	courseID, ok := c.course(ctx)
	if !ok {
		return
	}
	tree, err := c.Courses.Tree(courseID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	policy, err := c.Courses.Policy(courseID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	opts := service.ComputeOptions{
		UseOffline:    ctx.Query("offline") == "true",
		WithRawScores: ctx.Query("raw") == "true",
	}
	grades, err := c.Grading.ComputeGrade(ctx.Request.Context(), tree, policy, learnerID, opts)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{
		"percent":        grades.DisplayPercent(),
		"letter":         grades.Letter,
		"passed":         grades.Passed,
		"totaledScores":  grades.TotaledScores,
		"rawScores":      grades.RawScores,
		"warnings":       grades.Warnings,
	})
}

// MyGrade computes the requesting learner's own grade.
func (c *GradeController) MyGrade(ctx *gin.Context) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return
	}
	c.computeFor(ctx, user.UserID)
}

// LearnerGrade is the staff view of one learner's grade.
func (c *GradeController) LearnerGrade(ctx *gin.Context) {
	learnerID := util.MustParseUint(ctx.Param("learnerID"))
	if learnerID == 0 {
		util.BadRequest(ctx, "bad learner id")
		return
	}
	c.computeFor(ctx, learnerID)
}

// Report computes one grade row per actively enrolled learner.
func (c *GradeController) Report(ctx *gin.Context) {
	courseID, ok := c.course(ctx)
	if !ok {
		return
	}
	tree, err := c.Courses.Tree(courseID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	policy, err := c.Courses.Policy(courseID)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	rows, err := c.Grading.GradeReport(ctx.Request.Context(), tree, policy)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"rows": rows, "total": len(rows)})
}
