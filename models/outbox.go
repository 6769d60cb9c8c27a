package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type DocumentReferenceType string

const (
	DocumentReferenceTypeGrn DocumentReferenceType = "GRN"
	DocumentReferenceTypePo  DocumentReferenceType = "PO"
)

type DocumentEventAction string

const (
	DocumentEventActionCreate DocumentEventAction = "C"
	DocumentEventActionUpdate DocumentEventAction = "U"
)

// Outbox publish statuses for DocumentEventRecord.PublishStatus.
// Keep these as strings (DB values) for backwards compatibility.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// DocumentEventRecord is the transactional-outbox row for document events.
// It is written inside the same transaction as the document it describes and
// published to Pub/Sub by the dispatcher after commit, so downstream consumers
// never see an event for a document that did not commit.
type DocumentEventRecord struct {
	ID               int                   `gorm:"primary_key;index:idx_outbox_dispatch,priority:2" json:"id"`
	BusinessId       string                `gorm:"size:64;not null;index" json:"business_id"`
	EventTime        time.Time             `gorm:"index;not null" json:"event_time"`
	ReferenceId      int                   `json:"reference_id"`
	ReferenceType    DocumentReferenceType `gorm:"type:enum('GRN','PO')" json:"reference_type"`
	Action           DocumentEventAction   `gorm:"type:enum('C','U')" json:"action"`
	Payload          []byte                `gorm:"type:blob" json:"payload"`
	IsProcessed      bool                  `gorm:"index;not null" json:"is_processed"`
	PublishStatus    string                `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time            `gorm:"index" json:"published_at"`
	PubSubMessageId  *string               `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int                   `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time            `gorm:"index" json:"next_attempt_at"`
	LockedAt         *time.Time            `gorm:"index" json:"locked_at"`
	LockedBy         *string               `gorm:"size:100" json:"locked_by"`
	LastPublishError *string               `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string                `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

// PublishDocumentEvent writes the event record inside the caller's DB
// transaction but does NOT publish to Pub/Sub. Publishing is performed
// asynchronously by the outbox dispatcher after commit.
func PublishDocumentEvent(ctx context.Context, tx *gorm.DB, businessId string, refId int, refType DocumentReferenceType, action DocumentEventAction, obj interface{}) error {
	payload, err := json.Marshal(obj)
	if err != nil {
		return err
	}

	record := DocumentEventRecord{
		BusinessId:    businessId,
		EventTime:     time.Now().UTC(),
		ReferenceId:   refId,
		ReferenceType: refType,
		Action:        action,
		Payload:       payload,
		IsProcessed:   false,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToDocumentEventMessage(record DocumentEventRecord) config.DocumentEventMessage {
	return config.DocumentEventMessage{
		ID:            record.ID,
		BusinessId:    record.BusinessId,
		EventTime:     record.EventTime,
		ReferenceId:   record.ReferenceId,
		ReferenceType: string(record.ReferenceType),
		Action:        string(record.Action),
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}
