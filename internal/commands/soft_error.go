package commands

// SoftError fails a command without logging a message, for cases where the
// command has already told the user what to do.
type SoftError struct{}

func MakeSoftError() SoftError {
	return SoftError{}
}

func (se SoftError) Error() string {
	return ""
}
