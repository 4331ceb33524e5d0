package executor

import "fmt"

// New constructs the Executor realization for spec.Language. Mode does not
// currently change the realization (§9 notes dynamic dispatch is modeled as
// a variant over language, selected at creation time).
func New(spec Spec) (Executor, error) {
	switch spec.Language {
	case LanguagePython:
		return NewPython(), nil
	case LanguageJavaScript, LanguageTypeScript:
		return NewJS(spec.Language), nil
	default:
		return nil, fmt.Errorf("executor: unsupported language %q", spec.Language)
	}
}
