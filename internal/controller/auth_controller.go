package controller

import (
	"time"

	"learner_state_engine/internal/config"
	"learner_state_engine/internal/repository"
	"learner_state_engine/internal/util"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type AuthController struct {
	Users  *repository.UserRepository
	Config *config.Config
}

func NewAuthController(users *repository.UserRepository, cfg *config.Config) *AuthController {
	return &AuthController{Users: users, Config: cfg}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login checks the credentials and issues a token.
func (c *AuthController) Login(ctx *gin.Context) {
	var req loginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	user, err := c.Users.FindByEmail(req.Email)
	if err != nil {
		util.Unauthorized(ctx)
		return
	}
	if user.Disabled {
		util.Forbidden(ctx)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		util.Unauthorized(ctx)
		return
	}

	token, err := util.GenerateJWT(user, c.Config.JWT.Secret, c.Config.JWT.ExpireTime)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	c.Users.DB.Model(&user).Update("last_login", time.Now())

	util.Success(ctx, gin.H{
		"token": token,
		"user": gin.H{
			"id":       user.ID,
			"username": user.Username,
			"email":    user.Email,
			"role":     user.Role,
		},
	})
}
