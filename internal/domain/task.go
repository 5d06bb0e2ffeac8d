package domain

// TaskSpec is the single executable unit of a job. The script takes no
// arguments; its exit status is the sole determinant of run success.
type TaskSpec struct {
	Script string
}
