package domain

// EnvironmentSpec identifies the execution environment a run needs: a
// platform name, an interpreter with an optional version constraint, and
// the dependency manifest to install into it.
type EnvironmentSpec struct {
	Platform           string // e.g. "linux"
	Interpreter        string // e.g. "python3"
	InterpreterVersion string // prefix constraint, e.g. "3.11"; empty = any
	Manifest           string // dependency manifest path; empty = nothing to install
}
