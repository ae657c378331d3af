package memory

import "fmt"

type repoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string       { return "memory: " + e.msg }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

func notFound(entity string) error {
	return &repoError{msg: entity + " not found", notFound: true}
}

func conflict(msg string) error {
	return &repoError{msg: msg, conflict: true}
}

func invalid(err error) error {
	return fmt.Errorf("memory: %w", err)
}
