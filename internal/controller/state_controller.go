package controller

import (
	"learner_state_engine/internal/fieldstore"
	"learner_state_engine/internal/repository"
	"learner_state_engine/internal/service"
	"learner_state_engine/internal/util"

	"github.com/gin-gonic/gin"
)

// StateController serves scoped field reads and writes for the requesting
// learner. Each request builds one facade over one (learner, course) pair;
// the request cache lives and dies with it.
type StateController struct {
	States  *repository.StateRecordRepository
	Fields  *repository.FieldRepository
	Courses *service.CourseService
}

func NewStateController(states *repository.StateRecordRepository, fields *repository.FieldRepository, courses *service.CourseService) *StateController {
	return &StateController{States: states, Fields: fields, Courses: courses}
}

func (c *StateController) facade(ctx *gin.Context) (*fieldstore.Facade, *util.Claims, bool) {
	user := util.GetUserFromContext(ctx)
	if user == nil {
		util.Unauthorized(ctx)
		return nil, nil, false
	}
	tree, err := c.Courses.Tree(ctx.Param("courseID"))
	if err != nil {
		util.RespondError(ctx, err)
		return nil, nil, false
	}
	return fieldstore.NewFacade(c.States, c.Fields, tree, user.UserID), user, true
}

// fieldKey resolves the URL's scope segment into a tagged key for the
// requesting learner.
func fieldKey(f *fieldstore.Facade, scope, blockID, moduleType, field string) (fieldstore.FieldKey, bool) {
	switch scope {
	case "content":
		return fieldstore.ContentKey(blockID, field), true
	case "settings":
		return fieldstore.SettingsKey(blockID, field), true
	case "user_state":
		return fieldstore.UserStateKey(f.LearnerID, blockID, field), true
	case "user_state_summary":
		return fieldstore.UserStateSummaryKey(blockID, field), true
	case "preferences":
		return fieldstore.PreferenceKey(f.LearnerID, moduleType, field), true
	case "user_info":
		return fieldstore.UserInfoKey(f.LearnerID, field), true
	}
	return fieldstore.FieldKey{}, false
}

type warmRequest struct {
	BlockIDs []string `json:"blockIds" binding:"required"`
}

// WarmCache prefetches the state rows a render will touch, one query.
func (c *StateController) WarmCache(ctx *gin.Context) {
	f, _, ok := c.facade(ctx)
	if !ok {
		return
	}
	var req warmRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if err := f.Warm(req.BlockIDs); err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"warmed": len(req.BlockIDs)})
}

// GetField reads one scoped field for the requesting learner.
func (c *StateController) GetField(ctx *gin.Context) {
	f, _, ok := c.facade(ctx)
	if !ok {
		return
	}
	key, valid := fieldKey(f, ctx.Param("scope"), ctx.Query("block"), ctx.Query("module_type"), ctx.Param("field"))
	if !valid {
		util.BadRequest(ctx, "unknown field scope "+ctx.Param("scope"))
		return
	}
	value, err := f.Get(key)
	if err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"value": value})
}

type setFieldRequest struct {
	Value interface{} `json:"value"`
}

// SetField writes one scoped field. Authored scopes refuse writes.
func (c *StateController) SetField(ctx *gin.Context) {
	f, _, ok := c.facade(ctx)
	if !ok {
		return
	}
	key, valid := fieldKey(f, ctx.Param("scope"), ctx.Query("block"), ctx.Query("module_type"), ctx.Param("field"))
	if !valid {
		util.BadRequest(ctx, "unknown field scope "+ctx.Param("scope"))
		return
	}
	var req setFieldRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	if err := f.Set(key, req.Value); err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

// DeleteField removes one scoped field value.
func (c *StateController) DeleteField(ctx *gin.Context) {
	f, _, ok := c.facade(ctx)
	if !ok {
		return
	}
	key, valid := fieldKey(f, ctx.Param("scope"), ctx.Query("block"), ctx.Query("module_type"), ctx.Param("field"))
	if !valid {
		util.BadRequest(ctx, "unknown field scope "+ctx.Param("scope"))
		return
	}
	if err := f.Delete(key); err != nil {
		util.RespondError(ctx, err)
		return
	}
	util.Success(ctx, nil)
}
