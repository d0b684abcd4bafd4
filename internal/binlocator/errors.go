package binlocator

import "fmt"

// BinaryNotFound is returned when every resolution strategy — shell-native
// lookup, manual PATH scan, fallback list — has been exhausted.
type BinaryNotFound struct {
	Candidates []string
}

func (e *BinaryNotFound) Error() string {
	return fmt.Sprintf("binlocator: no executable found for candidates %v", e.Candidates)
}
