// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"gorm.io/gorm"

	"github.com/rapidaai/agent-assist/internal/commons"
)

const kbIndexName = "kb_articles"

// KBStore retrieves knowledge-base articles by intent tag. OpenSearch is the
// query path; Postgres is the source of truth and fallback when OpenSearch
// is unavailable.
type KBStore interface {
	SearchByTag(ctx context.Context, tag string, limit int) ([]KBArticle, error)
}

type kbStore struct {
	db     *gorm.DB
	os     *opensearch.Client
	logger commons.Logger
}

// NewKBStore constructs a KBStore. os may be nil, in which case every query
// degrades straight to the Postgres path.
func NewKBStore(db *gorm.DB, os *opensearch.Client, logger commons.Logger) KBStore {
	return &kbStore{db: db, os: os, logger: logger}
}

func (s *kbStore) SearchByTag(ctx context.Context, tag string, limit int) ([]KBArticle, error) {
	if s.os != nil {
		articles, err := s.searchOpenSearch(ctx, tag, limit)
		if err == nil {
			return articles, nil
		}
		s.logger.Warnw("store: opensearch kb query failed, degrading to postgres", "tag", tag, "err", err)
	}
	return s.searchPostgres(ctx, tag, limit)
}

func (s *kbStore) searchOpenSearch(ctx context.Context, tag string, limit int) ([]KBArticle, error) {
	query := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"match": map[string]interface{}{
				"tags": tag,
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("store: encoding opensearch query: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index: []string{kbIndexName},
		Body:  &buf,
	}
	res, err := req.Do(ctx, s.os)
	if err != nil {
		return nil, fmt.Errorf("store: opensearch search request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("store: opensearch search returned status %s", res.Status())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Score  float64   `json:"_score"`
				Source KBArticle `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("store: decoding opensearch response: %w", err)
	}

	out := make([]KBArticle, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		article := h.Source
		article.Score = h.Score
		out = append(out, article)
	}
	return out, nil
}

func (s *kbStore) searchPostgres(ctx context.Context, tag string, limit int) ([]KBArticle, error) {
	var rows []KBArticle
	err := s.db.WithContext(ctx).
		Where("tags ILIKE ?", "%"+strings.ToLower(tag)+"%").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: postgres kb fallback query for tag=%s: %w", tag, err)
	}
	for i := range rows {
		rows[i].Score = 1.0
	}
	return rows, nil
}
