package fieldstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"learner_state_engine/internal/content"
	"learner_state_engine/internal/model"
	"learner_state_engine/internal/repository"
	"learner_state_engine/internal/util"
)

// Facade routes a content block's scoped field reads and writes to the right
// backing store. One facade serves one (learner, course) request.
type Facade struct {
	States *repository.StateRecordRepository
	Fields *repository.FieldRepository
	Tree   *content.CourseTree
	Cache  *RequestCache

	LearnerID uint
	CourseID  string
}

func NewFacade(states *repository.StateRecordRepository, fields *repository.FieldRepository, tree *content.CourseTree, learnerID uint) *Facade {
	return &Facade{
		States:    states,
		Fields:    fields,
		Tree:      tree,
		Cache:     NewRequestCache(learnerID, tree.CourseID),
		LearnerID: learnerID,
		CourseID:  tree.CourseID,
	}
}

// Warm prefetches the state rows for a render of blockIDs.
func (f *Facade) Warm(blockIDs []string) error {
	return f.Cache.Warm(f.States, blockIDs)
}

// Get reads one field. user_state reads with no record fall back to the
// authored default when the block declares one; otherwise ErrNotFound. No
// record is created by a read.
func (f *Facade) Get(key FieldKey) (interface{}, error) {
	switch key.Scope {
	case ScopeContent, ScopeSettings:
		return f.authoredValue(key)
	case ScopeUserState:
		return f.getUserState(key)
	case ScopeUserStateSummary:
		raw, err := f.Fields.GetSummary(key.BlockID, key.Field)
		return decodeValue(raw, err)
	case ScopePreferences:
		raw, err := f.Fields.GetPreference(key.LearnerID, key.ModuleType, key.Field)
		return decodeValue(raw, err)
	case ScopeUserInfo:
		raw, err := f.Fields.GetInfo(key.LearnerID, key.Field)
		return decodeValue(raw, err)
	}
	return nil, fmt.Errorf("%w: %v", util.ErrInvalidScope, key.Scope)
}

// Set writes one field. Content and settings are authored data and refuse
// writes; a user_state write with no record creates one.
func (f *Facade) Set(key FieldKey, value interface{}) error {
	switch key.Scope {
	case ScopeContent, ScopeSettings:
		return fmt.Errorf("%w: scope %v", util.ErrInvalidWrite, key.Scope)
	case ScopeUserState:
		return f.setUserState(key, value)
	case ScopeUserStateSummary:
		raw, err := encodeValue(value)
		if err != nil {
			return err
		}
		return f.Fields.SetSummary(key.BlockID, key.Field, raw)
	case ScopePreferences:
		raw, err := encodeValue(value)
		if err != nil {
			return err
		}
		return f.Fields.SetPreference(key.LearnerID, key.ModuleType, key.Field, raw)
	case ScopeUserInfo:
		raw, err := encodeValue(value)
		if err != nil {
			return err
		}
		return f.Fields.SetInfo(key.LearnerID, key.Field, raw)
	}
	return fmt.Errorf("%w: %v", util.ErrInvalidScope, key.Scope)
}

// Delete removes one field value.
func (f *Facade) Delete(key FieldKey) error {
	switch key.Scope {
	case ScopeContent, ScopeSettings:
		return fmt.Errorf("%w: scope %v", util.ErrInvalidWrite, key.Scope)
	case ScopeUserState:
		return f.deleteUserState(key)
	case ScopeUserStateSummary:
		return f.Fields.DeleteSummary(key.BlockID, key.Field)
	case ScopePreferences:
		return f.Fields.DeletePreference(key.LearnerID, key.ModuleType, key.Field)
	case ScopeUserInfo:
		return f.Fields.DeleteInfo(key.LearnerID, key.Field)
	}
	return fmt.Errorf("%w: %v", util.ErrInvalidScope, key.Scope)
}

// Has reports whether a read of key would succeed.
func (f *Facade) Has(key FieldKey) (bool, error) {
	_, err := f.Get(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, util.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (f *Facade) authoredValue(key FieldKey) (interface{}, error) {
	block, ok := f.Tree.GetBlock(key.BlockID)
	if !ok {
		return nil, fmt.Errorf("%w: block %s", util.ErrNotFound, key.BlockID)
	}
	if v, found := block.Default(key.Field); found {
		return v, nil
	}
	// Settings surfaces the typed authored attributes.
	if key.Scope == ScopeSettings {
		switch key.Field {
		case "display_name":
			return block.DisplayName, nil
		case "due":
			if block.Due != nil {
				return *block.Due, nil
			}
		case "start":
			if block.Start != nil {
				return *block.Start, nil
			}
		case "max_attempts":
			return block.MaxAttempts, nil
		case "weight":
			if block.Weight != nil {
				return *block.Weight, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: field %s", util.ErrNotFound, key.Field)
}

func (f *Facade) getUserState(key FieldKey) (interface{}, error) {
	rec, err := f.stateRecord(key.BlockID)
	if err != nil && !errors.Is(err, util.ErrNotFound) {
		return nil, err
	}
	if rec != nil {
		state, serr := rec.StateMap()
		if serr != nil {
			return nil, serr
		}
		if v, found := state[key.Field]; found {
			return v, nil
		}
	}
	if block, ok := f.Tree.GetBlock(key.BlockID); ok {
		if v, found := block.Default(key.Field); found {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: field %s", util.ErrNotFound, key.Field)
}

func (f *Facade) setUserState(key FieldKey, value interface{}) error {
	moduleType := f.moduleType(key.BlockID)
	rec, created, err := f.States.GetOrCreate(key.LearnerID, f.CourseID, key.BlockID, moduleType)
	if err != nil {
		return err
	}
	state, err := rec.StateMap()
	if err != nil {
		return err
	}
	state[key.Field] = value
	if err := rec.SetStateMap(state); err != nil {
		return err
	}
	if created {
		err = f.States.SaveInitial(rec)
	} else {
		err = f.States.Save(rec)
	}
	if err != nil {
		return err
	}
	f.Cache.Put(rec)
	return nil
}

func (f *Facade) deleteUserState(key FieldKey) error {
	rec, err := f.stateRecord(key.BlockID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: no state for block %s", util.ErrNotFound, key.BlockID)
	}
	state, err := rec.StateMap()
	if err != nil {
		return err
	}
	if _, found := state[key.Field]; !found {
		return fmt.Errorf("%w: field %s", util.ErrNotFound, key.Field)
	}
	delete(state, key.Field)
	if err := rec.SetStateMap(state); err != nil {
		return err
	}
	if err := f.States.Save(rec); err != nil {
		return err
	}
	f.Cache.Put(rec)
	return nil
}

// stateRecord reads through the cache when the block was warmed.
func (f *Facade) stateRecord(blockID string) (*model.StateRecord, error) {
	if rec, warmed := f.Cache.Get(blockID); warmed {
		if rec == nil {
			return nil, util.ErrNotFound
		}
		return rec, nil
	}
	rec, err := f.States.Get(f.LearnerID, f.CourseID, blockID, f.moduleType(blockID))
	if err != nil {
		return nil, err
	}
	f.Cache.Put(rec)
	return rec, nil
}

func (f *Facade) moduleType(blockID string) string {
	if block, ok := f.Tree.GetBlock(blockID); ok {
		return block.Category
	}
	return model.ModuleTypeProblem
}

func encodeValue(value interface{}) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeValue(raw string, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	var v interface{}
	if uerr := json.Unmarshal([]byte(raw), &v); uerr != nil {
		return nil, uerr
	}
	return v, nil
}
