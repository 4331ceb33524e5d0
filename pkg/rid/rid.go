// Package rid implements the "namespace:local-id" resource identity scheme
// shared by kernels, vector indices, and agents.
package rid

import (
	"fmt"
	"strings"
)

// ID is a fully-qualified resource identifier: "<namespace>:<local-id>".
type ID struct {
	Namespace string
	Local     string
}

// String renders the canonical "namespace:local" form.
func (id ID) String() string {
	return id.Namespace + ":" + id.Local
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id.Namespace == "" && id.Local == ""
}

// Parse splits "namespace:local-id" into its two parts. The namespace itself
// may not contain the separator, but the local id may, and both may
// otherwise be any non-empty string; exactly one colon-delimited split is
// performed from the left so a namespace can never swallow part of the id.
func Parse(s string) (ID, error) {
	ns, local, ok := strings.Cut(s, ":")
	if !ok || ns == "" || local == "" {
		return ID{}, fmt.Errorf("rid: %q is not a valid \"namespace:id\" resource identifier", s)
	}
	return ID{Namespace: ns, Local: local}, nil
}

// New builds an ID from already-known parts without validation beyond
// non-emptiness.
func New(namespace, local string) (ID, error) {
	if namespace == "" || local == "" {
		return ID{}, fmt.Errorf("rid: namespace and local id must both be non-empty")
	}
	return ID{Namespace: namespace, Local: local}, nil
}
