package aggregation

import "fmt"

// RepositoryError is the single error type surfaced by Repository
// operations. Err carries the cause: ErrCodec for marshal failures, or the
// storage error that rolled the transaction back.
type RepositoryError struct {
	Op  string
	Key Key
	Err error
}

func (e *RepositoryError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("aggregation %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("aggregation %s %q: %v", e.Op, string(e.Key), e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

func wrap(op string, key Key, err error) error {
	if err == nil {
		return nil
	}
	if re, ok := err.(*RepositoryError); ok {
		return re
	}
	return &RepositoryError{Op: op, Key: key, Err: err}
}
