package pipeline

import "fmt"

// Lint reports composition problems the engine tolerates: a context field
// read before any earlier stage writes it, or written by two stages. An
// empty result means the ordering looks sound.
func Lint(stages []Stage) []string {
	var warnings []string
	produced := make(map[Field]string)

	for i, s := range stages {
		cu, ok := s.(ContextUser)
		if !ok {
			continue
		}
		for _, f := range cu.Consumes() {
			if _, ok := produced[f]; !ok {
				warnings = append(warnings, fmt.Sprintf(
					"stage %d (%s) reads %s before any stage provides it", i, s.Name(), f))
			}
		}
		for _, f := range cu.Produces() {
			if prev, ok := produced[f]; ok {
				warnings = append(warnings, fmt.Sprintf(
					"stage %d (%s) provides %s already provided by %s", i, s.Name(), f, prev))
				continue
			}
			produced[f] = s.Name()
		}
	}

	return warnings
}
