package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"ops-agent/internal/domain"
	"ops-agent/internal/session"
)

const (
	skPrefixTurn = "TURN#"
	skPrefixFix  = "FIX#"
	skMeta       = "META#"
	skPending    = "PENDING#"
	ttlDuration  = 30 * 24 * time.Hour // 30-day TTL
	maxTxItems   = 100
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

var _ session.Store = (*Client)(nil)

// Client stores conversation sessions in a single DynamoDB table.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// convPK returns the DynamoDB partition key for a session.
func convPK(sessionID string) string {
	return "CONV#" + sessionID
}

// turnKeyLayout is fixed width so sort keys order like the instants they
// encode. RFC3339Nano trims trailing zeros and does not.
const turnKeyLayout = "2006-01-02T15:04:05.000000000Z07:00"

// turnSK orders turns by time; the suffix keeps same-instant writes distinct.
func turnSK(ts time.Time) string {
	return skPrefixTurn + ts.UTC().Format(turnKeyLayout) + "#" + uuid.NewString()[:8]
}

func fixSK(actionID string) string {
	return skPrefixFix + actionID
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

func (c *Client) key(sessionID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: convPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// AppendTurn writes the turn and bumps the session metadata in one transaction.
func (c *Client) AppendTurn(ctx context.Context, sessionID string, turn domain.ConversationTurn) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: AppendTurn: session id is required")
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                turnItem(sessionID, turn),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName:        aws.String(c.tableName),
					Key:              c.key(sessionID, skMeta),
					UpdateExpression: aws.String("ADD turns :one SET lastActivity = :ts, #ttl = :ttl"),
					ExpressionAttributeNames: map[string]string{
						"#ttl": "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":one": &types.AttributeValueMemberN{Value: "1"},
						":ts":  &types.AttributeValueMemberS{Value: turn.Timestamp.UTC().Format(time.RFC3339)},
						":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlValue(), 10)},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return nil
}

// RecentTurns queries the newest n turns and returns them chronologically.
func (c *Client) RecentTurns(ctx context.Context, sessionID string, n int) ([]domain.ConversationTurn, error) {
	if n <= 0 {
		return nil, nil
	}
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(n)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentTurns query: %w", err)
	}

	turns := make([]domain.ConversationTurn, 0, len(out.Items))
	for _, item := range out.Items {
		t, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: RecentTurns unmarshal: %w", err)
		}
		turns = append(turns, t)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SetPendingClarification replaces the session's pending clarification.
func (c *Client) SetPendingClarification(ctx context.Context, sessionID string, p domain.PendingClarification) error {
	item := c.key(sessionID, skPending)
	item["originalRequest"] = &types.AttributeValueMemberS{Value: p.OriginalRequest}
	item["question"] = &types.AttributeValueMemberS{Value: p.ClarificationQuestion}
	item["suggestedCategory"] = &types.AttributeValueMemberS{Value: string(p.SuggestedCategory)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlValue(), 10)}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: SetPendingClarification: %w", err)
	}
	return nil
}

// TakePendingClarification deletes the pending item and returns its old value.
func (c *Client) TakePendingClarification(ctx context.Context, sessionID string) (domain.PendingClarification, bool, error) {
	out, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(c.tableName),
		Key:          c.key(sessionID, skPending),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return domain.PendingClarification{}, false, fmt.Errorf("repository: TakePendingClarification: %w", err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return domain.PendingClarification{}, false, nil
	}

	original, err := strAttr(out.Attributes, "originalRequest")
	if err != nil {
		return domain.PendingClarification{}, false, fmt.Errorf("repository: TakePendingClarification decode: %w", err)
	}
	question, _ := strAttr(out.Attributes, "question")
	category, _ := strAttr(out.Attributes, "suggestedCategory")
	return domain.PendingClarification{
		OriginalRequest:       original,
		ClarificationQuestion: question,
		SuggestedCategory:     domain.Category(category),
	}, true, nil
}

// SaveFixes archives fix actions, one transaction per 100 items.
func (c *Client) SaveFixes(ctx context.Context, sessionID string, fixes []domain.FixAction) error {
	for start := 0; start < len(fixes); start += maxTxItems {
		end := start + maxTxItems
		if end > len(fixes) {
			end = len(fixes)
		}
		items := make([]types.TransactWriteItem, 0, end-start)
		for _, fix := range fixes[start:end] {
			item, err := fixItem(sessionID, fix)
			if err != nil {
				return fmt.Errorf("repository: SaveFixes: %w", err)
			}
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      item,
				},
			})
		}
		if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
			return fmt.Errorf("repository: SaveFixes: %w", err)
		}
	}
	return nil
}

// ListFixes returns all archived fixes for a session ordered by timestamp.
func (c *Client) ListFixes(ctx context.Context, sessionID string) ([]domain.FixAction, error) {
	var (
		fixes    []domain.FixAction
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: convPK(sessionID)},
				":prefix": &types.AttributeValueMemberS{Value: skPrefixFix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("repository: ListFixes query: %w", err)
		}
		for _, item := range out.Items {
			fix, err := itemToFix(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListFixes unmarshal: %w", err)
			}
			fixes = append(fixes, fix)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	sort.SliceStable(fixes, func(i, j int) bool { return fixes[i].Timestamp.Before(fixes[j].Timestamp) })
	return fixes, nil
}

// UpdateFixStatus sets the validation status of an archived fix.
func (c *Client) UpdateFixStatus(ctx context.Context, sessionID, actionID string, status domain.ValidationStatus) error {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 c.key(sessionID, fixSK(actionID)),
		UpdateExpression:    aws.String("SET validationStatus = :status"),
		ConditionExpression: aws.String("attribute_exists(PK) AND attribute_exists(SK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("repository: UpdateFixStatus %s: %w", actionID, session.ErrFixNotFound)
		}
		return fmt.Errorf("repository: UpdateFixStatus: %w", err)
	}
	return nil
}

func turnItem(sessionID string, t domain.ConversationTurn) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":            &types.AttributeValueMemberS{Value: convPK(sessionID)},
		"SK":            &types.AttributeValueMemberS{Value: turnSK(t.Timestamp)},
		"sessionId":     &types.AttributeValueMemberS{Value: sessionID},
		"userMessage":   &types.AttributeValueMemberS{Value: t.UserMessage},
		"agentResponse": &types.AttributeValueMemberS{Value: t.AgentResponse},
		"agentUsed":     &types.AttributeValueMemberS{Value: string(t.AgentUsed)},
		"timestamp":     &types.AttributeValueMemberS{Value: t.Timestamp.UTC().Format(time.RFC3339Nano)},
		"ttl":           &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlValue(), 10)},
	}
}

// itemToTurn converts a DynamoDB attribute map to a ConversationTurn.
func itemToTurn(item map[string]types.AttributeValue) (domain.ConversationTurn, error) {
	msg, err := strAttr(item, "userMessage")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	agent, err := strAttr(item, "agentUsed")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	resp, _ := strAttr(item, "agentResponse") // allow empty
	ts, err := timeAttr(item, "timestamp")
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	return domain.ConversationTurn{
		UserMessage:   msg,
		AgentResponse: resp,
		AgentUsed:     domain.AgentName(agent),
		Timestamp:     ts,
	}, nil
}

func fixItem(sessionID string, f domain.FixAction) (map[string]types.AttributeValue, error) {
	before, err := json.Marshal(f.BeforeState)
	if err != nil {
		return nil, fmt.Errorf("encode before state: %w", err)
	}
	after, err := json.Marshal(f.AfterState)
	if err != nil {
		return nil, fmt.Errorf("encode after state: %w", err)
	}
	commands := make([]types.AttributeValue, 0, len(f.CommandsExecuted))
	for _, cmd := range f.CommandsExecuted {
		commands = append(commands, &types.AttributeValueMemberS{Value: cmd})
	}
	status := f.ValidationStatus
	if status == "" {
		status = domain.ValidationPending
	}

	item := map[string]types.AttributeValue{
		"PK":                 &types.AttributeValueMemberS{Value: convPK(sessionID)},
		"SK":                 &types.AttributeValueMemberS{Value: fixSK(f.ActionID)},
		"actionId":           &types.AttributeValueMemberS{Value: f.ActionID},
		"actionType":         &types.AttributeValueMemberS{Value: string(f.ActionType)},
		"resourceType":       &types.AttributeValueMemberS{Value: f.ResourceType},
		"resourceIdentifier": &types.AttributeValueMemberS{Value: f.ResourceIdentifier},
		"description":        &types.AttributeValueMemberS{Value: f.Description},
		"commands":           &types.AttributeValueMemberL{Value: commands},
		"beforeState":        &types.AttributeValueMemberS{Value: string(before)},
		"afterState":         &types.AttributeValueMemberS{Value: string(after)},
		"timestamp":          &types.AttributeValueMemberS{Value: f.Timestamp.UTC().Format(time.RFC3339Nano)},
		"success":            &types.AttributeValueMemberBOOL{Value: f.Success},
		"validationStatus":   &types.AttributeValueMemberS{Value: string(status)},
		"ttl":                &types.AttributeValueMemberN{Value: strconv.FormatInt(ttlValue(), 10)},
	}
	if f.ErrorMessage != nil {
		item["errorMessage"] = &types.AttributeValueMemberS{Value: *f.ErrorMessage}
	}
	return item, nil
}

func itemToFix(item map[string]types.AttributeValue) (domain.FixAction, error) {
	id, err := strAttr(item, "actionId")
	if err != nil {
		return domain.FixAction{}, err
	}
	ts, err := timeAttr(item, "timestamp")
	if err != nil {
		return domain.FixAction{}, err
	}
	actionType, _ := strAttr(item, "actionType")
	resourceType, _ := strAttr(item, "resourceType")
	resourceID, _ := strAttr(item, "resourceIdentifier")
	description, _ := strAttr(item, "description")
	status, _ := strAttr(item, "validationStatus")

	fix := domain.FixAction{
		ActionID:           id,
		ActionType:         domain.ActionType(actionType),
		ResourceType:       resourceType,
		ResourceIdentifier: resourceID,
		Description:        description,
		Timestamp:          ts,
		ValidationStatus:   domain.ValidationStatus(status),
	}
	if l, ok := item["commands"].(*types.AttributeValueMemberL); ok {
		for _, v := range l.Value {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				fix.CommandsExecuted = append(fix.CommandsExecuted, s.Value)
			}
		}
	}
	if b, ok := item["success"].(*types.AttributeValueMemberBOOL); ok {
		fix.Success = b.Value
	}
	if msg, err := strAttr(item, "errorMessage"); err == nil {
		fix.ErrorMessage = &msg
	}
	if fix.BeforeState, err = stateAttr(item, "beforeState"); err != nil {
		return domain.FixAction{}, err
	}
	if fix.AfterState, err = stateAttr(item, "afterState"); err != nil {
		return domain.FixAction{}, err
	}
	return fix, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}


func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}

func stateAttr(item map[string]types.AttributeValue, key string) (map[string]any, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return map[string]any{}, nil
	}
	state := map[string]any{}
	if s == "" || s == "null" {
		return state, nil
	}
	if err := json.Unmarshal([]byte(s), &state); err != nil {
		return nil, fmt.Errorf("repository: decode attribute %q: %w", key, err)
	}
	return state, nil
}
