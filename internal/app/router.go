package app

import (
	"learner_state_engine/internal/config"
	"learner_state_engine/internal/middleware"
	"learner_state_engine/internal/model"
	"learner_state_engine/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())
	router.GET("/health", c.health.Health)
	router.GET("/ready", c.health.Ready)

	router.POST("/api/auth/login", c.auth.Login)

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(cfg))
	{
		// Learner-facing: own state, fields and grade.
		course := api.Group("/courses/:courseID")
		{
			course.POST("/state/warm", c.state.WarmCache)
			course.GET("/fields/:scope/:field", c.state.GetField)
			course.PUT("/fields/:scope/:field", c.state.SetField)
			course.DELETE("/fields/:scope/:field", c.state.DeleteField)
			course.GET("/grade", c.grade.MyGrade)
		}

		// Staff-facing: other learners' data and the mutators.
		staff := api.Group("/courses/:courseID/staff")
		staff.Use(middleware.RoleMiddleware(model.Staff))
		{
			staff.GET("/learners/:learnerID/history", c.history.SubmissionHistory)
			staff.GET("/learners/:learnerID/grade", c.grade.LearnerGrade)
			staff.GET("/learners/:learnerID/enrollment-audit", c.enrollment.LearnerAudit)
			staff.GET("/enrollment-audit", c.enrollment.RangeAudit)
			staff.GET("/grade-report", c.grade.Report)

			staff.POST("/reset-attempts", c.admin.ResetAttempts)
			staff.POST("/delete-state", c.admin.DeleteState)
			staff.POST("/rescore", c.admin.Rescore)
			staff.POST("/bulk", c.admin.SubmitBulk)

			staff.POST("/due-extension", c.admin.SetDueExtension)
			staff.DELETE("/due-extension", c.admin.ClearDueExtension)

			staff.POST("/roster", c.enrollment.UploadRoster)
			staff.POST("/enroll", c.enrollment.Enroll)
			staff.POST("/unenroll", c.enrollment.Unenroll)
			staff.POST("/revoke-allowance", c.enrollment.RevokeAllowance)
		}

		tasks := api.Group("/tasks")
		tasks.Use(middleware.RoleMiddleware(model.Staff))
		{
			tasks.GET("/:taskID", c.admin.TaskStatus)
			tasks.POST("/:taskID/cancel", c.admin.CancelTask)
		}
	}
}
