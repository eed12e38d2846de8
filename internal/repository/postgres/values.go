package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/configmat/configmat/internal/domain"
	"github.com/configmat/configmat/internal/repository"
)

const valueColumns = `id, object_id, environment, key, value_type, value_string, value_json, value_reference, value_encrypted, created_at, updated_at`

// ListValues returns an object's values for one environment ordered by key.
func (q queries) ListValues(ctx context.Context, objectID, environment string) ([]domain.Value, error) {
	const query = `SELECT ` + valueColumns + ` FROM config_values
		WHERE object_id = $1 AND environment = $2 ORDER BY key`
	rows, err := q.db.Query(ctx, query, objectID, environment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make([]domain.Value, 0)
	for rows.Next() {
		value, err := scanValue(rows)
		if err != nil {
			return nil, err
		}
		values = append(values, *value)
	}
	return values, rows.Err()
}

// GetValue fetches one value by its unique (object, environment, key).
func (q queries) GetValue(ctx context.Context, objectID, environment, key string) (*domain.Value, error) {
	const query = `SELECT ` + valueColumns + ` FROM config_values
		WHERE object_id = $1 AND environment = $2 AND key = $3`
	value, err := scanValue(q.db.QueryRow(ctx, query, objectID, environment, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

// UpsertValue inserts or replaces a value at (object, environment, key).
func (q queries) UpsertValue(ctx context.Context, value *domain.Value) error {
	if value.ID == "" {
		value.ID = uuid.NewString()
	}
	const query = `INSERT INTO config_values (id, object_id, environment, key, value_type, value_string, value_json, value_reference, value_encrypted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (object_id, environment, key) DO UPDATE SET
			value_type = EXCLUDED.value_type,
			value_string = EXCLUDED.value_string,
			value_json = EXCLUDED.value_json,
			value_reference = EXCLUDED.value_reference,
			value_encrypted = EXCLUDED.value_encrypted,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`
	err := q.db.QueryRow(ctx, query,
		value.ID,
		value.ObjectID,
		value.Environment,
		value.Key,
		string(value.Type),
		stringPtrToNil(value.StringValue),
		jsonToNil(value.JSONValue),
		stringPtrToNil(value.ReferenceID),
		bytesToNil(value.EncryptedValue),
	).Scan(&value.ID, &value.CreatedAt, &value.UpdatedAt)
	return mapError(err)
}

// DeleteValues removes the named keys from (object, environment).
func (q queries) DeleteValues(ctx context.Context, objectID, environment string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	const query = `DELETE FROM config_values WHERE object_id = $1 AND environment = $2 AND key = ANY($3)`
	_, err := q.db.Exec(ctx, query, objectID, environment, keys)
	return mapError(err)
}

// DeleteAllValues clears every value of (object, environment).
func (q queries) DeleteAllValues(ctx context.Context, objectID, environment string) error {
	const query = `DELETE FROM config_values WHERE object_id = $1 AND environment = $2`
	_, err := q.db.Exec(ctx, query, objectID, environment)
	return mapError(err)
}

// ListAssetValues loads every object of the asset with its values for the
// environment in one query. The resolution path depends on this being a
// single round trip regardless of how many objects the asset holds.
func (q queries) ListAssetValues(ctx context.Context, assetID, environment string) ([]repository.ObjectValues, error) {
	const query = `SELECT o.id, o.asset_id, o.name, o.kind, o.description, o.created_at,
			v.id, v.environment, v.key, v.value_type, v.value_string, v.value_json, v.value_reference, v.value_encrypted, v.created_at, v.updated_at
		FROM config_objects o
		LEFT JOIN config_values v ON v.object_id = o.id AND v.environment = $2
		WHERE o.asset_id = $1
		ORDER BY o.name, v.key`
	rows, err := q.db.Query(ctx, query, assetID, environment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]repository.ObjectValues, 0)
	index := make(map[string]int)
	for rows.Next() {
		var (
			obj       domain.Object
			kind      string
			valueID   sql.NullString
			valueEnv  sql.NullString
			valueKey  sql.NullString
			valueType sql.NullString
			valueStr  sql.NullString
			valueJSON []byte
			valueRef  sql.NullString
			valueEnc  []byte
			createdAt sql.NullTime
			updatedAt sql.NullTime
		)
		if err := rows.Scan(
			&obj.ID, &obj.AssetID, &obj.Name, &kind, &obj.Description, &obj.CreatedAt,
			&valueID, &valueEnv, &valueKey, &valueType, &valueStr, &valueJSON, &valueRef, &valueEnc, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}
		obj.Kind = domain.Kind(kind)
		pos, ok := index[obj.ID]
		if !ok {
			pos = len(results)
			index[obj.ID] = pos
			results = append(results, repository.ObjectValues{Object: obj, Values: []domain.Value{}})
		}
		if !valueID.Valid {
			continue
		}
		value := domain.Value{
			ID:          valueID.String,
			ObjectID:    obj.ID,
			Environment: valueEnv.String,
			Key:         valueKey.String,
			Type:        domain.ValueType(valueType.String),
		}
		if valueStr.Valid {
			s := valueStr.String
			value.StringValue = &s
		}
		if len(valueJSON) > 0 {
			value.JSONValue = append(json.RawMessage(nil), valueJSON...)
		}
		if valueRef.Valid {
			ref := valueRef.String
			value.ReferenceID = &ref
		}
		if len(valueEnc) > 0 {
			value.EncryptedValue = append([]byte(nil), valueEnc...)
		}
		if createdAt.Valid {
			value.CreatedAt = createdAt.Time
		}
		if updatedAt.Valid {
			value.UpdatedAt = updatedAt.Time
		}
		results[pos].Values = append(results[pos].Values, value)
	}
	return results, rows.Err()
}

func scanValue(row pgx.Row) (*domain.Value, error) {
	var (
		value     domain.Value
		valueType string
		valueStr  sql.NullString
		valueJSON []byte
		valueRef  sql.NullString
		valueEnc  []byte
	)
	if err := row.Scan(
		&value.ID,
		&value.ObjectID,
		&value.Environment,
		&value.Key,
		&valueType,
		&valueStr,
		&valueJSON,
		&valueRef,
		&valueEnc,
		&value.CreatedAt,
		&value.UpdatedAt,
	); err != nil {
		return nil, err
	}
	value.Type = domain.ValueType(valueType)
	if valueStr.Valid {
		s := valueStr.String
		value.StringValue = &s
	}
	if len(valueJSON) > 0 {
		value.JSONValue = append(json.RawMessage(nil), valueJSON...)
	}
	if valueRef.Valid {
		ref := valueRef.String
		value.ReferenceID = &ref
	}
	if len(valueEnc) > 0 {
		value.EncryptedValue = append([]byte(nil), valueEnc...)
	}
	return &value, nil
}

func jsonToNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func bytesToNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
