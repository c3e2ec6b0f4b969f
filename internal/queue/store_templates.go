package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"conveyor/internal/services"
)

// CreateTemplate persists a new template and returns it with its identifier.
func (s *Store) CreateTemplate(ctx context.Context, tpl *Template) (*Template, error) {
	if tpl == nil {
		return nil, errors.New("template is nil")
	}
	if strings.TrimSpace(tpl.Name) == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "create-template", "name must not be empty", nil)
	}
	if tpl.OwnerID <= 0 {
		return nil, services.Wrap(services.ErrValidation, "queue", "create-template", "owner must be set", nil)
	}
	mode, err := ParseMatchMode(string(tpl.MatchMode))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "queue", "create-template", err.Error(), nil)
	}

	fields, err := templateJSONFields(tpl)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO templates (
            owner_id, name, match_mode, match_names_json, match_fuzzy_json,
            match_keywords_json, match_patterns_json, match_source_ids_json,
            processing_json, metadata_json, output_targets_json, auto_publish,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tpl.OwnerID,
		strings.TrimSpace(tpl.Name),
		mode,
		fields.names,
		fields.fuzzy,
		fields.keywords,
		fields.patterns,
		fields.sourceIDs,
		fields.processing,
		fields.metadata,
		fields.targets,
		boolToInt(tpl.AutoPublish),
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetTemplate(ctx, id)
}

// GetTemplate fetches a template by identifier.
func (s *Store) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)
	tpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return tpl, nil
}

// ListTemplates returns an owner's templates ordered by creation time
// ascending, the order first-match-wins selection depends on.
func (s *Store) ListTemplates(ctx context.Context, ownerID int64) ([]*Template, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+templateColumns+` FROM templates WHERE owner_id = ? ORDER BY created_at, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

// UpdateTemplate persists changes to an existing template.
func (s *Store) UpdateTemplate(ctx context.Context, tpl *Template) error {
	if tpl == nil {
		return errors.New("template is nil")
	}
	mode, err := ParseMatchMode(string(tpl.MatchMode))
	if err != nil {
		return services.Wrap(services.ErrValidation, "queue", "update-template", err.Error(), nil)
	}
	fields, err := templateJSONFields(tpl)
	if err != nil {
		return err
	}
	tpl.UpdatedAt = time.Now().UTC()

	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE templates
         SET name = ?, match_mode = ?, match_names_json = ?, match_fuzzy_json = ?,
             match_keywords_json = ?, match_patterns_json = ?, match_source_ids_json = ?,
             processing_json = ?, metadata_json = ?, output_targets_json = ?,
             auto_publish = ?, updated_at = ?
         WHERE id = ?`,
		strings.TrimSpace(tpl.Name),
		mode,
		fields.names,
		fields.fuzzy,
		fields.keywords,
		fields.patterns,
		fields.sourceIDs,
		fields.processing,
		fields.metadata,
		fields.targets,
		boolToInt(tpl.AutoPublish),
		tpl.UpdatedAt.Format(time.RFC3339Nano),
		tpl.ID,
	); err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return nil
}

// DeleteTemplate removes a template and clears the template reference on
// every item mapped to it, in one transaction. Item status and stage progress
// are untouched.
func (s *Store) DeleteTemplate(ctx context.Context, id int64) (int64, error) {
	var unmapped int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ensureContext(ctx),
			`UPDATE processed_items SET template_id = NULL, is_mapped = 0, updated_at = ?
             WHERE template_id = ?`,
			time.Now().UTC().Format(time.RFC3339Nano),
			id,
		)
		if err != nil {
			return fmt.Errorf("unmap items: %w", err)
		}
		unmapped, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if _, err := tx.ExecContext(ensureContext(ctx), `DELETE FROM templates WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete template: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return unmapped, nil
}

// MapItemToTemplate records a template selection on an item.
func (s *Store) MapItemToTemplate(ctx context.Context, itemID, templateID int64) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE processed_items SET template_id = ?, is_mapped = 1, updated_at = ? WHERE id = ?`,
		templateID,
		time.Now().UTC().Format(time.RFC3339Nano),
		itemID,
	); err != nil {
		return fmt.Errorf("map item to template: %w", err)
	}
	return nil
}

type templateFields struct {
	names      any
	fuzzy      any
	keywords   any
	patterns   any
	sourceIDs  any
	processing any
	metadata   any
	targets    any
}

func templateJSONFields(tpl *Template) (templateFields, error) {
	var fields templateFields
	var err error
	if fields.names, err = marshalJSONField(tpl.MatchNames); err != nil {
		return fields, err
	}
	if fields.fuzzy, err = marshalJSONField(tpl.MatchFuzzy); err != nil {
		return fields, err
	}
	if fields.keywords, err = marshalJSONField(tpl.MatchKeywords); err != nil {
		return fields, err
	}
	if fields.patterns, err = marshalJSONField(tpl.MatchPatterns); err != nil {
		return fields, err
	}
	if fields.sourceIDs, err = marshalJSONField(tpl.MatchSourceIDs); err != nil {
		return fields, err
	}
	if fields.processing, err = marshalJSONField(tpl.Processing); err != nil {
		return fields, err
	}
	if fields.metadata, err = marshalJSONField(tpl.Metadata); err != nil {
		return fields, err
	}
	if fields.targets, err = marshalJSONField(tpl.OutputTargets); err != nil {
		return fields, err
	}
	return fields, nil
}

const templateColumns = "id, owner_id, name, match_mode, match_names_json, match_fuzzy_json, match_keywords_json, match_patterns_json, match_source_ids_json, processing_json, metadata_json, output_targets_json, auto_publish, created_at, updated_at"

func scanTemplate(scanner interface{ Scan(dest ...any) error }) (*Template, error) {
	var (
		id          int64
		ownerID     int64
		name        string
		matchMode   string
		names       sql.NullString
		fuzzy       sql.NullString
		keywords    sql.NullString
		patterns    sql.NullString
		sourceIDs   sql.NullString
		processing  sql.NullString
		metadata    sql.NullString
		targets     sql.NullString
		autoPublish int
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&id, &ownerID, &name, &matchMode,
		&names, &fuzzy, &keywords, &patterns, &sourceIDs,
		&processing, &metadata, &targets, &autoPublish,
		&createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	tpl := &Template{
		ID:          id,
		OwnerID:     ownerID,
		Name:        name,
		MatchMode:   MatchMode(matchMode),
		AutoPublish: autoPublish != 0,
	}
	if err := unmarshalJSONField(names.String, &tpl.MatchNames); err != nil {
		return nil, fmt.Errorf("decode match names: %w", err)
	}
	if err := unmarshalJSONField(fuzzy.String, &tpl.MatchFuzzy); err != nil {
		return nil, fmt.Errorf("decode match fuzzy names: %w", err)
	}
	if err := unmarshalJSONField(keywords.String, &tpl.MatchKeywords); err != nil {
		return nil, fmt.Errorf("decode match keywords: %w", err)
	}
	if err := unmarshalJSONField(patterns.String, &tpl.MatchPatterns); err != nil {
		return nil, fmt.Errorf("decode match patterns: %w", err)
	}
	if err := unmarshalJSONField(sourceIDs.String, &tpl.MatchSourceIDs); err != nil {
		return nil, fmt.Errorf("decode match source ids: %w", err)
	}
	if err := unmarshalJSONField(processing.String, &tpl.Processing); err != nil {
		return nil, fmt.Errorf("decode processing config: %w", err)
	}
	if err := unmarshalJSONField(metadata.String, &tpl.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata config: %w", err)
	}
	if err := unmarshalJSONField(targets.String, &tpl.OutputTargets); err != nil {
		return nil, fmt.Errorf("decode output targets: %w", err)
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		tpl.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		tpl.UpdatedAt = updated
	}
	return tpl, nil
}
