package vectorindex

import "fmt"

func errDimensionMismatch(want, got int) error {
	return fmt.Errorf("vector dimension mismatch: index is %d-dimensional, got %d", want, got)
}

func errNoVectorOrText(id string) error {
	return fmt.Errorf("document %q has neither text nor vector", id)
}

func errNoQueryInput() error {
	return fmt.Errorf("query requires either text or a vector")
}
