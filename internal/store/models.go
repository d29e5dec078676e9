// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package store

import "time"

// Utterance is a persisted transcript line. Primary key (call_id, seq) with
// UPSERT-on-conflict semantics: a duplicate seq updates text rather than
// erroring, covering out-of-order or replayed delivery off the bus.
type Utterance struct {
	CallID      string    `json:"callId" gorm:"column:call_id;type:varchar(64);primaryKey"`
	Seq         uint64    `json:"seq" gorm:"column:seq;primaryKey"`
	TenantID    string    `json:"tenantId" gorm:"column:tenant_id;type:varchar(64);not null;default:''"`
	Text        string    `json:"text" gorm:"column:text;type:text;not null;default:''"`
	Speaker     string    `json:"speaker" gorm:"column:speaker;type:varchar(16);not null;default:'unknown'"`
	TsMs        int64     `json:"ts" gorm:"column:ts_ms;not null;default:0"`
	CreatedDate time.Time `json:"createdDate" gorm:"column:created_date;type:timestamp;not null;default:NOW();<-:create"`
	UpdatedDate time.Time `json:"updatedDate" gorm:"column:updated_date;type:timestamp"`
}

func (Utterance) TableName() string { return "utterances" }

// Speaker values recognized on an Utterance.
const (
	SpeakerCustomer = "customer"
	SpeakerAgent    = "agent"
	SpeakerUnknown  = "unknown"
)

// Intent is an append-only classification row; the most recent row per
// callId (by CreatedDate) is the call's current intent.
type Intent struct {
	ID          uint64    `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	CallID      string    `json:"callId" gorm:"column:call_id;type:varchar(64);not null;index"`
	Label       string    `json:"intent" gorm:"column:label;type:varchar(128);not null;default:''"`
	Confidence  float64   `json:"confidence" gorm:"column:confidence;not null;default:0"`
	CreatedDate time.Time `json:"createdDate" gorm:"column:created_date;type:timestamp;not null;default:NOW();<-:create"`
}

func (Intent) TableName() string { return "intents" }

// IntentUnknown is recorded when LLM classification fails; the broadcast is
// skipped but the row still exists so Latest never returns a stale intent.
const IntentUnknown = "unknown"

// Disposition is the call-end summary, written exactly once per callId.
type Disposition struct {
	CallID             string    `json:"callId" gorm:"column:call_id;type:varchar(64);primaryKey"`
	IssueSummary       string    `json:"issueSummary" gorm:"column:issue_summary;type:text;not null;default:''"`
	Resolution         string    `json:"resolution" gorm:"column:resolution;type:text;not null;default:''"`
	NextSteps          string    `json:"nextSteps" gorm:"column:next_steps;type:text;not null;default:''"`
	Confidence         float64   `json:"confidence" gorm:"column:confidence;not null;default:0"`
	SuggestedCategories string   `json:"suggestedCategories" gorm:"column:suggested_categories;type:text;not null;default:''"`
	CreatedDate        time.Time `json:"createdDate" gorm:"column:created_date;type:timestamp;not null;default:NOW();<-:create"`
}

func (Disposition) TableName() string { return "dispositions" }

// KBArticle is read-only from the pipeline's perspective; mirrored into
// OpenSearch for tag/full-text query, Postgres remains source of truth.
type KBArticle struct {
	ID      string  `json:"id" gorm:"column:id;type:varchar(64);primaryKey"`
	Title   string  `json:"title" gorm:"column:title;type:varchar(512);not null;default:''"`
	Snippet string  `json:"snippet" gorm:"column:snippet;type:text;not null;default:''"`
	Tags    string  `json:"-" gorm:"column:tags;type:text;not null;default:''"`
	Score   float64 `json:"score" gorm:"-"`
}

func (KBArticle) TableName() string { return "kb_articles" }

// Call context status constants mirror the pending/claimed/completed
// lifecycle a provider's asynchronous status callback must still be able to
// resolve after the media stream itself has closed.
const (
	CallContextStatusPending   = "pending"
	CallContextStatusClaimed   = "claimed"
	CallContextStatusCompleted = "completed"
)

// CallContext bridges the Ingest Gateway's carrier `start` frame to any
// later asynchronous provider callback (e.g. a Twilio call-status webhook)
// that arrives after the media connection itself has already closed.
type CallContext struct {
	ID          uint64    `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ContextID   string    `json:"contextId" gorm:"column:context_id;type:varchar(36);not null;uniqueIndex"`
	CallID      string    `json:"callId" gorm:"column:call_id;type:varchar(64);not null;index"`
	TenantID    string    `json:"tenantId" gorm:"column:tenant_id;type:varchar(64);not null;default:''"`
	Direction   string    `json:"direction" gorm:"column:direction;type:varchar(16);not null;default:''"`
	Status      string    `json:"status" gorm:"column:status;type:varchar(20);not null;default:pending"`
	Provider    string    `json:"provider" gorm:"column:provider;type:varchar(32);not null;default:''"`
	ChannelUUID string    `json:"channelUuid" gorm:"column:channel_uuid;type:varchar(200);not null;default:''"`
	CreatedDate time.Time `json:"createdDate" gorm:"column:created_date;type:timestamp;not null;default:NOW();<-:create"`
	UpdatedDate time.Time `json:"updatedDate" gorm:"column:updated_date;type:timestamp"`
}

func (CallContext) TableName() string { return "call_contexts" }

func (cc *CallContext) IsPending() bool { return cc.Status == CallContextStatusPending }
func (cc *CallContext) IsClaimed() bool { return cc.Status == CallContextStatusClaimed }
