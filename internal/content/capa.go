package content

// CapaScore derives (grade, max_grade) from the raw state of a capa-style
// problem. Partial credit sums over correct_map, preferring npoints when
// present, else 1.0 for correct or partially-correct answers. When the
// correct_map is empty but input_state is not, the learner has loaded the
// problem without answering: (0, |input_state|). Otherwise there is nothing
// to derive and both values are nil.
//
// Deterministic for a fixed state: repeated calls yield identical results.
func CapaScore(state map[string]interface{}) (*float64, *float64) {
	correctMap, _ := state["correct_map"].(map[string]interface{})
	if len(correctMap) > 0 {
		var earned float64
		for _, raw := range correctMap {
			entry, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if npoints, ok := entry["npoints"].(float64); ok {
				earned += npoints
				continue
			}
			switch entry["correctness"] {
			case "correct", "partially-correct":
				earned += 1.0
			}
		}
		max := float64(len(correctMap))
		return &earned, &max
	}

	inputState, _ := state["input_state"].(map[string]interface{})
	if len(inputState) > 0 {
		zero := 0.0
		max := float64(len(inputState))
		return &zero, &max
	}

	return nil, nil
}
