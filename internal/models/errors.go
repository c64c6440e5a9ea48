package models

import (
	"encoding/json"
	"fmt"
)

// UnreadableFileError is returned when a buffer is not a readable workbook
// or has no worksheet. No partial output accompanies it.
type UnreadableFileError struct {
	Reason string
	Err    error
}

func (e *UnreadableFileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unreadable spreadsheet: %s: %v", e.Reason, e.Err)
	}
	return "unreadable spreadsheet: " + e.Reason
}

func (e *UnreadableFileError) Unwrap() error {
	return e.Err
}

// StyleApplicationWarning records a style that could not be written back to
// one cell. The cell is skipped and the workbook is still produced.
type StyleApplicationWarning struct {
	Address string
	Step    string
	Err     error
}

func (w StyleApplicationWarning) Error() string {
	return fmt.Sprintf("cell %s: %s: %v", w.Address, w.Step, w.Err)
}

func (w StyleApplicationWarning) Unwrap() error {
	return w.Err
}

func (w StyleApplicationWarning) MarshalJSON() ([]byte, error) {
	msg := ""
	if w.Err != nil {
		msg = w.Err.Error()
	}
	return json.Marshal(map[string]string{
		"address": w.Address,
		"step":    w.Step,
		"message": msg,
	})
}
