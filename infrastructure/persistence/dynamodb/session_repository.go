// Package dynamodb stores tab session snapshots in a DynamoDB table keyed by
// PK/SK.
package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crewcanvas/application/ports"
	"crewcanvas/domain/core/aggregates"
	"crewcanvas/infrastructure/observability"
	apperrors "crewcanvas/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

const (
	entityTypeSession = "SESSION"
	snapshotSK        = "SNAPSHOT"
)

// API is the part of the DynamoDB client the repository uses
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// SessionRepository implements ports.SessionRepository on DynamoDB
type SessionRepository struct {
	client    API
	tableName string
	metrics   *observability.Collector
	logger    *zap.Logger
}

var _ ports.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates the repository. metrics may be nil.
func NewSessionRepository(client API, tableName string, metrics *observability.Collector, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{client: client, tableName: tableName, metrics: metrics, logger: logger}
}

// sessionItem is the DynamoDB item of a snapshot. Tabs are stored as one
// JSON document since node data is free-form.
type sessionItem struct {
	PK           string `dynamodbav:"PK"`
	SK           string `dynamodbav:"SK"`
	EntityType   string `dynamodbav:"EntityType"`
	SessionID    string `dynamodbav:"SessionID"`
	ActiveTabID  string `dynamodbav:"ActiveTabID"`
	TabCount     int    `dynamodbav:"TabCount"`
	Tabs         string `dynamodbav:"Tabs"`
	SavedAt      string `dynamodbav:"SavedAt"`
	SavedAtNanos int64  `dynamodbav:"SavedAtNanos"`
}

func sessionPK(sessionID string) string {
	return fmt.Sprintf("SESSION#%s", sessionID)
}

func key(sessionID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: snapshotSK},
	}
}

// Save writes the snapshot unless a newer one is already stored
func (r *SessionRepository) Save(ctx context.Context, snapshot aggregates.SessionSnapshot) (err error) {
	defer func() { r.metrics.RecordSessionSave(err) }()

	if snapshot.SessionID == "" {
		return apperrors.NewValidationError("session id is required")
	}
	tabs, err := json.Marshal(snapshot.Tabs)
	if err != nil {
		return apperrors.NewInternalError("encode session tabs").WithCause(err)
	}

	item := sessionItem{
		PK:           sessionPK(snapshot.SessionID),
		SK:           snapshotSK,
		EntityType:   entityTypeSession,
		SessionID:    snapshot.SessionID,
		ActiveTabID:  snapshot.ActiveTabID,
		TabCount:     len(snapshot.Tabs),
		Tabs:         string(tabs),
		SavedAt:      snapshot.SavedAt.UTC().Format(time.RFC3339Nano),
		SavedAtNanos: snapshot.SavedAt.UnixNano(),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return apperrors.NewInternalError("marshal session item").WithCause(err)
	}

	expr, err := staleWriteGuard(item.SavedAtNanos)
	if err != nil {
		return apperrors.NewInternalError("build session condition").WithCause(err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.tableName),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var conditional *types.ConditionalCheckFailedException
		if errors.As(err, &conditional) {
			r.logger.Warn("Skipped stale session snapshot", zap.String("session_id", snapshot.SessionID))
			return apperrors.NewConflictError("a newer snapshot is already stored")
		}
		return r.classify("save session", err)
	}

	r.logger.Debug("Session saved",
		zap.String("session_id", snapshot.SessionID),
		zap.Int("tabs", item.TabCount),
	)
	return nil
}

// staleWriteGuard accepts the first snapshot of a session and any snapshot
// at least as new as the stored one.
func staleWriteGuard(savedAtNanos int64) (expression.Expression, error) {
	cond := expression.Name("PK").AttributeNotExists().
		Or(expression.Name("SavedAtNanos").LessThanEqual(expression.Value(savedAtNanos)))
	return expression.NewBuilder().WithCondition(cond).Build()
}

// Load reads the snapshot of a session
func (r *SessionRepository) Load(ctx context.Context, sessionID string) (*aggregates.SessionSnapshot, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            key(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, r.classify("load session", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, apperrors.NewNotFoundError("session " + sessionID)
	}

	var item sessionItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, apperrors.NewInternalError("unmarshal session item").WithCause(err)
	}
	snapshot := &aggregates.SessionSnapshot{
		SessionID:   item.SessionID,
		ActiveTabID: item.ActiveTabID,
		SavedAt:     time.Unix(0, item.SavedAtNanos).UTC(),
	}
	if err := json.Unmarshal([]byte(item.Tabs), &snapshot.Tabs); err != nil {
		return nil, apperrors.NewInternalError("decode session tabs").WithCause(err)
	}
	return snapshot, nil
}

// classify maps AWS API errors onto the error taxonomy
func (r *SessionRepository) classify(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "ThrottlingException", "RequestLimitExceeded":
			return apperrors.NewUnavailableError("dynamodb").WithCause(err)
		case "ResourceNotFoundException":
			r.logger.Error("Session table missing", zap.String("table", r.tableName))
		}
		return apperrors.NewExternalError(fmt.Sprintf("%s: %s", op, apiErr.ErrorCode()), err)
	}
	return apperrors.NewNetworkError(op, err)
}
