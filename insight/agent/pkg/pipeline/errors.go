package pipeline

import "errors"

var (
	// ErrLLM is returned when the LLM endpoint fails after retries.
	ErrLLM = errors.New("llm request failed")

	// ErrNoSelection is returned when no table or template is configured to
	// fall back on after an unusable selection.
	ErrNoSelection = errors.New("no table or prompt available for selection")

	// ErrInvalidTable is returned when the selector names an unknown table.
	ErrInvalidTable = errors.New("invalid table selected")

	// ErrTableNotFound is returned when the selected table has no columns.
	ErrTableNotFound = errors.New("table not found or has no columns")

	ErrSQLGeneration = errors.New("sql generation failed")
	ErrSQLExecution  = errors.New("sql execution failed after retries")
)
