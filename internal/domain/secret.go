package domain

// SecretBinding maps a logical secret name to its resolved value for the
// duration of one run. Bindings are exposed to the task as process-scoped
// environment variables named identically to the logical name, and are
// discarded at run end. Values must never reach logs or storage.
type SecretBinding struct {
	Name  string
	Value string
}
