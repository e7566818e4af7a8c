package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	apperrors "github.com/adverant/nexus/recordfusion/internal/errors"
	"github.com/adverant/nexus/recordfusion/internal/forms"
	"github.com/adverant/nexus/recordfusion/internal/layout"
)

// Defaults for extractor fields stored without a search zone
var (
	defaultFieldExtent  = layout.ZoneExtent{Width: 0.3, Height: 0.1}
	defaultFieldPadding = layout.ZonePadding{}
)

// ExtractorConfig is a stored extractor with its tenant anchor overrides
type ExtractorConfig struct {
	Profile forms.Profile    `json:"profile"`
	Anchors layout.AnchorSet `json:"anchors"`
}

type searchZone struct {
	Padding *layout.ZonePadding `json:"padding,omitempty"`
	Extent  *layout.ZoneExtent  `json:"extent,omitempty"`
}

// LoadExtractor reads an extractor profile and its anchor fields
func (s *SQLStore) LoadExtractor(ctx context.Context, id int64) (*ExtractorConfig, error) {
	var (
		cfg     ExtractorConfig
		name    string
		rt      string
		mode    string
		regions sql.NullString
		learned sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT id, name, record_type, extraction_mode, record_regions, learned_params
		FROM ocr_extractors WHERE id = ?`), id).
		Scan(&cfg.Profile.ID, &name, &rt, &mode, &regions, &learned)
	if err == sql.ErrNoRows || isUndefinedTable(err) {
		return nil, apperrors.NewNotFoundError(0, fmt.Sprintf("Extractor not found: %d", id))
	}
	if err != nil {
		return nil, apperrors.NewStorageFailedError(0, "load extractor", err)
	}

	cfg.Profile.Name = name
	cfg.Profile.RecordType = rt
	cfg.Profile.Mode = forms.Mode(mode)
	if regions.Valid && regions.String != "" {
		if err := json.Unmarshal([]byte(regions.String), &cfg.Profile.RecordRegions); err != nil {
			s.logger.Warn("Ignoring unreadable record_regions", "extractor_id", id, "error", err.Error())
			cfg.Profile.RecordRegions = nil
		}
	}
	if learned.Valid && learned.String != "" {
		if err := json.Unmarshal([]byte(learned.String), &cfg.Profile.LearnedParams); err != nil {
			s.logger.Warn("Ignoring unreadable learned_params", "extractor_id", id, "error", err.Error())
			cfg.Profile.LearnedParams = layout.LearnedParams{}
		}
	}

	anchors, err := s.loadExtractorFields(ctx, id)
	if err != nil {
		return nil, apperrors.NewStorageFailedError(0, "load extractor fields", err)
	}
	cfg.Anchors = anchors
	return &cfg, nil
}

func (s *SQLStore) loadExtractorFields(ctx context.Context, id int64) (layout.AnchorSet, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`
		SELECT field_key, anchor_phrases, anchor_direction, search_zone
		FROM ocr_extractor_fields
		WHERE extractor_id = ? AND anchor_phrases IS NOT NULL
		ORDER BY sort_order ASC, id ASC`), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var set layout.AnchorSet
	for rows.Next() {
		var (
			key       string
			phrases   string
			direction sql.NullString
			zoneJSON  sql.NullString
		)
		if err := rows.Scan(&key, &phrases, &direction, &zoneJSON); err != nil {
			return nil, err
		}

		field := layout.FieldAnchor{Key: key, AnchorConfig: layout.AnchorConfig{
			Direction:   layout.DirectionBelow,
			ZonePadding: defaultFieldPadding,
			ZoneExtent:  defaultFieldExtent,
		}}
		if err := json.Unmarshal([]byte(phrases), &field.Phrases); err != nil {
			s.logger.Warn("Skipping field with unreadable anchor_phrases", "extractor_id", id, "field", key)
			continue
		}
		if d := layout.Direction(direction.String); d.Valid() {
			field.Direction = d
		}
		if zoneJSON.Valid && zoneJSON.String != "" {
			var zone searchZone
			if err := json.Unmarshal([]byte(zoneJSON.String), &zone); err == nil {
				if zone.Padding != nil {
					field.ZonePadding = *zone.Padding
				}
				if zone.Extent != nil {
					field.ZoneExtent = *zone.Extent
				}
			}
		}
		set = append(set, field)
	}
	return set, rows.Err()
}

// SaveExtractor inserts an extractor and its fields, returning the new id
func (s *SQLStore) SaveExtractor(ctx context.Context, cfg ExtractorConfig) (int64, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		return 0, apperrors.NewStorageFailedError(0, "ensure schema", err)
	}

	regions, err := json.Marshal(cfg.Profile.RecordRegions)
	if err != nil {
		return 0, apperrors.NewInvalidInputError("invalid record regions", err)
	}
	learned, err := json.Marshal(cfg.Profile.LearnedParams)
	if err != nil {
		return 0, apperrors.NewInvalidInputError("invalid learned params", err)
	}
	mode := cfg.Profile.Mode
	if mode == "" {
		mode = forms.ModeForm
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.NewStorageFailedError(0, "begin save extractor", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, s.dialect.Rebind(`
		INSERT INTO ocr_extractors (name, record_type, extraction_mode, record_regions, learned_params)
		VALUES (?, ?, ?, ?, ?) RETURNING id`),
		cfg.Profile.Name, cfg.Profile.RecordType, string(mode), string(regions), string(learned),
	).Scan(&id)
	if err != nil {
		return 0, apperrors.NewStorageFailedError(0, "insert extractor", err)
	}

	for i, f := range cfg.Anchors {
		phrases, _ := json.Marshal(f.Phrases)
		zone, _ := json.Marshal(searchZone{Padding: &f.ZonePadding, Extent: &f.ZoneExtent})
		_, err := tx.ExecContext(ctx, s.dialect.Rebind(`
			INSERT INTO ocr_extractor_fields (extractor_id, field_key, anchor_phrases, anchor_direction, search_zone, sort_order)
			VALUES (?, ?, ?, ?, ?, ?)`),
			id, f.Key, string(phrases), string(f.Direction), string(zone), i)
		if err != nil {
			return 0, apperrors.NewStorageFailedError(0, "insert extractor field", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.NewStorageFailedError(0, "commit extractor", err)
	}
	return id, nil
}
