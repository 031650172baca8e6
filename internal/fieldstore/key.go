package fieldstore

// Scope selects the backing store for a field access.
type Scope int

const (
	ScopeContent Scope = iota
	ScopeSettings
	ScopeUserState
	ScopeUserStateSummary
	ScopePreferences
	ScopeUserInfo
)

func (s Scope) String() string {
	switch s {
	case ScopeContent:
		return "content"
	case ScopeSettings:
		return "settings"
	case ScopeUserState:
		return "user_state"
	case ScopeUserStateSummary:
		return "user_state_summary"
	case ScopePreferences:
		return "preferences"
	case ScopeUserInfo:
		return "user_info"
	}
	return "unknown"
}

// FieldKey is the tagged address of one field. Which components are
// meaningful depends on the scope tag; the constructors below set exactly
// the ones each scope uses.
type FieldKey struct {
	Scope      Scope
	LearnerID  uint
	BlockID    string
	ModuleType string
	Field      string
}

func ContentKey(blockID, field string) FieldKey {
	return FieldKey{Scope: ScopeContent, BlockID: blockID, Field: field}
}

func SettingsKey(blockID, field string) FieldKey {
	return FieldKey{Scope: ScopeSettings, BlockID: blockID, Field: field}
}

func UserStateKey(learnerID uint, blockID, field string) FieldKey {
	return FieldKey{Scope: ScopeUserState, LearnerID: learnerID, BlockID: blockID, Field: field}
}

func UserStateSummaryKey(blockID, field string) FieldKey {
	return FieldKey{Scope: ScopeUserStateSummary, BlockID: blockID, Field: field}
}

func PreferenceKey(learnerID uint, moduleType, field string) FieldKey {
	return FieldKey{Scope: ScopePreferences, LearnerID: learnerID, ModuleType: moduleType, Field: field}
}

func UserInfoKey(learnerID uint, field string) FieldKey {
	return FieldKey{Scope: ScopeUserInfo, LearnerID: learnerID, Field: field}
}
