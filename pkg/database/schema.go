package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks that a journal database has the tables, columns
// and indexes the journal queries depend on.
type SchemaValidator struct {
	db *sql.DB
}

func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every structural check.
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"room_events":       "Room membership history",
		"executions":        "Execution history",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

func (v *SchemaValidator) ValidateTableStructure() error {
	roomEventColumns := map[string]string{
		"id":        "TEXT",
		"room_id":   "TEXT",
		"socket_id": "TEXT",
		"username":  "TEXT",
		"kind":      "TEXT",
		"timestamp": "DATETIME",
	}
	if err := v.validateColumns("room_events", roomEventColumns); err != nil {
		return fmt.Errorf("room_events table structure invalid: %w", err)
	}

	executionColumns := map[string]string{
		"id":          "TEXT",
		"language":    "TEXT",
		"status":      "TEXT",
		"duration_ms": "INTEGER",
		"timestamp":   "DATETIME",
	}
	if err := v.validateColumns("executions", executionColumns); err != nil {
		return fmt.Errorf("executions table structure invalid: %w", err)
	}

	return nil
}

func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_room_events_room_time":    "Room activity retrieval",
		"idx_room_events_socket":       "Per-connection history",
		"idx_executions_language_time": "Execution history by language",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
