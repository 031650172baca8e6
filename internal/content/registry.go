package content

// Capabilities describes what the engine can do with one block category.
// The registry is populated once at process start; there is no dynamic
// loading of block implementations.
type Capabilities struct {
	// Scorer derives (grade, max_grade) from raw serialized state. Nil for
	// categories that carry no derivable grade.
	Scorer func(state map[string]interface{}) (grade, maxGrade *float64)
	// HasChildren marks container categories.
	HasChildren bool
	// Graded marks categories that participate in grading by default.
	Graded bool
	// FieldDefaults are the category-level authored defaults.
	FieldDefaults map[string]interface{}
}

var registry = map[string]Capabilities{}

// Register installs the capabilities for a category. Later registrations for
// the same category replace earlier ones.
func Register(category string, caps Capabilities) {
	registry[category] = caps
}

// Lookup returns the capabilities for a category.
func Lookup(category string) (Capabilities, bool) {
	caps, ok := registry[category]
	return caps, ok
}

func init() {
	Register("problem", Capabilities{
		Scorer: CapaScore,
		Graded: true,
		FieldDefaults: map[string]interface{}{
			"attempts":     float64(0),
			"done":         false,
			"max_attempts": float64(0),
		},
	})
	Register("video", Capabilities{
		FieldDefaults: map[string]interface{}{
			"speed":    "1.0",
			"position": float64(0),
		},
	})
	Register("html", Capabilities{})
	Register("course", Capabilities{HasChildren: true})
	Register("chapter", Capabilities{HasChildren: true})
	Register("sequential", Capabilities{HasChildren: true})
	Register("vertical", Capabilities{HasChildren: true})
}
