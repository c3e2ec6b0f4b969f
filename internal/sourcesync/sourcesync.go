// Package sourcesync ingests newly discovered recordings from external
// sources into the queue. The Source collaborator hides the actual transport
// (platform APIs, RSS feeds, watch folders); ingestion owns item creation,
// quota accounting, and template auto-matching.
package sourcesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"conveyor/internal/logging"
	"conveyor/internal/queue"
	"conveyor/internal/quota"
	"conveyor/internal/services"
	"conveyor/internal/templates"
)

// Recording is one discovered recording awaiting ingestion. Sources must
// return only recordings not previously reported for the same source; the
// ingestor does not deduplicate.
type Recording struct {
	Title    string
	Metadata map[string]any
}

// Source fetches newly discovered recordings for one source reference.
// Params carries the job's sync parameters verbatim.
type Source interface {
	Fetch(ctx context.Context, sourceID int64, params map[string]any) ([]Recording, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, sourceID int64, params map[string]any) ([]Recording, error)

func (f SourceFunc) Fetch(ctx context.Context, sourceID int64, params map[string]any) ([]Recording, error) {
	return f(ctx, sourceID, params)
}

// Result summarizes one sync run.
type Result struct {
	Discovered   int
	Created      []*queue.Item
	Matched      int
	LimitReached bool
}

// Ingestor creates queue items for discovered recordings.
type Ingestor struct {
	store   *queue.Store
	ledger  *quota.Ledger
	matcher *templates.Service
	logger  *slog.Logger
}

// NewIngestor builds an ingestor.
func NewIngestor(store *queue.Store, ledger *quota.Ledger, matcher *templates.Service, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:   store,
		ledger:  ledger,
		matcher: matcher,
		logger:  logging.NewComponentLogger(logger, "sourcesync"),
	}
}

// Sync fetches recordings from the source and creates one initialized item
// per recording, counting each against the owner's monthly creation quota.
// When the quota runs out mid-batch, the items created so far stand and the
// result reports the truncation; a fresh period lets the remainder through on
// the next sync.
func (i *Ingestor) Sync(ctx context.Context, ownerID, sourceID int64, src Source, params map[string]any) (*Result, error) {
	if src == nil {
		return nil, services.Wrap(services.ErrValidation, "sourcesync", "sync", "source must not be nil", nil)
	}

	recordings, err := src.Fetch(ctx, sourceID, params)
	if err != nil {
		return nil, services.Wrap(services.ErrStage, "sourcesync", "fetch",
			fmt.Sprintf("source %d fetch failed", sourceID), err)
	}

	result := &Result{Discovered: len(recordings)}
	for _, recording := range recordings {
		if strings.TrimSpace(recording.Title) == "" {
			continue
		}
		if err := i.ledger.ReserveItemCreation(ctx, ownerID); err != nil {
			if errors.Is(err, services.ErrQuotaExceeded) {
				result.LimitReached = true
				i.logger.WarnContext(ctx, "item creation quota reached during sync",
					logging.Int64(logging.FieldOwnerID, ownerID),
					logging.Int("created", len(result.Created)),
					logging.Int("discovered", result.Discovered))
				break
			}
			return result, err
		}

		metadata := ""
		if len(recording.Metadata) > 0 {
			encoded, err := json.Marshal(recording.Metadata)
			if err != nil {
				return result, fmt.Errorf("marshal recording metadata: %w", err)
			}
			metadata = string(encoded)
		}

		item, err := i.store.NewItem(ctx, queue.NewItemParams{
			OwnerID:      ownerID,
			Title:        recording.Title,
			SourceID:     sourceID,
			MetadataJSON: metadata,
		})
		if err != nil {
			return result, err
		}
		result.Created = append(result.Created, item)

		if i.matcher != nil {
			tpl, err := i.matcher.AutoMatch(ctx, item)
			if err != nil {
				i.logger.WarnContext(ctx, "template auto-match failed",
					logging.Int64(logging.FieldItemID, item.ID), logging.Error(err))
			} else if tpl != nil {
				result.Matched++
			}
		}
	}

	i.logger.InfoContext(ctx, "source sync finished",
		logging.Int64(logging.FieldOwnerID, ownerID),
		logging.Int64("source_id", sourceID),
		logging.Int("discovered", result.Discovered),
		logging.Int("created", len(result.Created)),
		logging.Int("matched", result.Matched))
	return result, nil
}
