package nl2sql

import "context"

// TableContext describes one registered table for the model: its name,
// column names with their parquet types, and the row count from the
// footer.
type TableContext struct {
	TableName string   `json:"table_name"`
	Columns   []string `json:"columns"`
	Types     []string `json:"types"`
	RowCount  int64    `json:"row_count"`
}

type Request struct {
	NaturalLanguage string         `json:"natural_language"`
	Tables          []TableContext `json:"tables"`
}

type Result struct {
	SQL      string `json:"sql"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}
