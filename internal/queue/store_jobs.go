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

// CreateJob persists a new automation job. NextRunAt must already be computed
// by the schedule layer; the store does not interpret the descriptor.
func (s *Store) CreateJob(ctx context.Context, job *AutomationJob) (*AutomationJob, error) {
	if job == nil {
		return nil, errors.New("job is nil")
	}
	if strings.TrimSpace(job.Name) == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "create-job", "name must not be empty", nil)
	}
	if job.OwnerID <= 0 {
		return nil, services.Wrap(services.ErrValidation, "queue", "create-job", "owner must be set", nil)
	}
	if strings.TrimSpace(job.ScheduleJSON) == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "create-job", "schedule must be set", nil)
	}

	fields, err := jobJSONFields(job)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO automation_jobs (
            owner_id, name, schedule_json, source_id, template_ids_json,
            status_filter_json, sync_params_json, processing_params_json,
            active, last_run_at, next_run_at, run_count, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.OwnerID,
		strings.TrimSpace(job.Name),
		job.ScheduleJSON,
		job.SourceID,
		fields.templateIDs,
		fields.statusFilter,
		fields.syncParams,
		fields.processingParams,
		boolToInt(job.Active),
		nullableTime(job.LastRunAt),
		nullableTime(job.NextRunAt),
		job.RunCount,
		now,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches an automation job by identifier.
func (s *Store) GetJob(ctx context.Context, id int64) (*AutomationJob, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM automation_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListJobs returns an owner's automation jobs ordered by creation time.
func (s *Store) ListJobs(ctx context.Context, ownerID int64) ([]*AutomationJob, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+jobColumns+` FROM automation_jobs WHERE owner_id = ? ORDER BY created_at, id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// ActiveJobs returns every active job across owners, for engine registration.
func (s *Store) ActiveJobs(ctx context.Context) ([]*AutomationJob, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+jobColumns+` FROM automation_jobs WHERE active = 1 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, job *AutomationJob) error {
	if job == nil {
		return errors.New("job is nil")
	}
	fields, err := jobJSONFields(job)
	if err != nil {
		return err
	}
	job.UpdatedAt = time.Now().UTC()

	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE automation_jobs
         SET name = ?, schedule_json = ?, source_id = ?, template_ids_json = ?,
             status_filter_json = ?, sync_params_json = ?, processing_params_json = ?,
             active = ?, next_run_at = ?, updated_at = ?
         WHERE id = ?`,
		strings.TrimSpace(job.Name),
		job.ScheduleJSON,
		job.SourceID,
		fields.templateIDs,
		fields.statusFilter,
		fields.syncParams,
		fields.processingParams,
		boolToInt(job.Active),
		nullableTime(job.NextRunAt),
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.ID,
	); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// DeleteJob removes an automation job.
func (s *Store) DeleteJob(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM automation_jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RecordJobRun atomically stamps a firing: last run, recomputed next run, and
// the run counter, all in one update.
func (s *Store) RecordJobRun(ctx context.Context, id int64, ranAt time.Time, nextRun *time.Time) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE automation_jobs
         SET last_run_at = ?, next_run_at = ?, run_count = run_count + 1, updated_at = ?
         WHERE id = ?`,
		ranAt.UTC().Format(time.RFC3339Nano),
		nullableTime(nextRun),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("record job run: %w", err)
	}
	return nil
}

type jobFields struct {
	templateIDs      any
	statusFilter     any
	syncParams       any
	processingParams any
}

func jobJSONFields(job *AutomationJob) (jobFields, error) {
	var fields jobFields
	var err error
	if fields.templateIDs, err = marshalJSONField(job.TemplateIDs); err != nil {
		return fields, err
	}
	if len(job.StatusFilter) == 0 {
		fields.statusFilter = nil
	} else if fields.statusFilter, err = marshalJSONField(job.StatusFilter); err != nil {
		return fields, err
	}
	if fields.syncParams, err = marshalJSONField(job.SyncParams); err != nil {
		return fields, err
	}
	if fields.processingParams, err = marshalJSONField(job.ProcessingParams); err != nil {
		return fields, err
	}
	return fields, nil
}

const jobColumns = "id, owner_id, name, schedule_json, source_id, template_ids_json, status_filter_json, sync_params_json, processing_params_json, active, last_run_at, next_run_at, run_count, created_at, updated_at"

func collectJobs(rows *sql.Rows) ([]*AutomationJob, error) {
	var jobs []*AutomationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*AutomationJob, error) {
	var (
		id               int64
		ownerID          int64
		name             string
		scheduleJSON     string
		sourceID         int64
		templateIDs      sql.NullString
		statusFilter     sql.NullString
		syncParams       sql.NullString
		processingParams sql.NullString
		active           int
		lastRunRaw       sql.NullString
		nextRunRaw       sql.NullString
		runCount         int
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
	)
	if err := scanner.Scan(
		&id, &ownerID, &name, &scheduleJSON, &sourceID,
		&templateIDs, &statusFilter, &syncParams, &processingParams,
		&active, &lastRunRaw, &nextRunRaw, &runCount,
		&createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &AutomationJob{
		ID:           id,
		OwnerID:      ownerID,
		Name:         name,
		ScheduleJSON: scheduleJSON,
		SourceID:     sourceID,
		Active:       active != 0,
		RunCount:     runCount,
	}
	if err := unmarshalJSONField(templateIDs.String, &job.TemplateIDs); err != nil {
		return nil, fmt.Errorf("decode template scope: %w", err)
	}
	if err := unmarshalJSONField(statusFilter.String, &job.StatusFilter); err != nil {
		return nil, fmt.Errorf("decode status filter: %w", err)
	}
	if err := unmarshalJSONField(syncParams.String, &job.SyncParams); err != nil {
		return nil, fmt.Errorf("decode sync params: %w", err)
	}
	if err := unmarshalJSONField(processingParams.String, &job.ProcessingParams); err != nil {
		return nil, fmt.Errorf("decode processing params: %w", err)
	}
	if lastRunRaw.Valid {
		if t, err := parseTimeString(lastRunRaw.String); err == nil {
			job.LastRunAt = &t
		}
	}
	if nextRunRaw.Valid {
		if t, err := parseTimeString(nextRunRaw.String); err == nil {
			job.NextRunAt = &t
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}
