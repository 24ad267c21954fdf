package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"statement-analyzer/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	// DefaultTTL bounds how long an idle session is kept.
	DefaultTTL = 24 * time.Hour

	maxTransactItems = 100
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client stores sessions in a single DynamoDB table: one META# item with the
// enriched table and ratios, and one MSG# item per chat turn. Every write moves
// the ttl of all of a session's items to the same value, so a session expires
// as a whole once it has been idle for ttl.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// New creates a new repository Client. A non-positive ttl means DefaultTTL.
func New(api dynamodbAPI, tableName string, ttl time.Duration) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Client{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

// msgSK zero-pads the sequence so sort keys order chronologically.
func msgSK(seq int) string {
	return fmt.Sprintf("%s%06d", skPrefixMsg, seq)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(c.ttl).Unix()
}

// CreateSession writes the session's META# item. The id must be new.
func (c *Client) CreateSession(ctx context.Context, s *domain.Session) error {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return errors.New("repository: CreateSession: session id is required")
	}
	item, err := c.metaItem(s)
	if err != nil {
		return fmt.Errorf("repository: CreateSession: %w", err)
	}

	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateSession: %w", err)
	}
	return nil
}

// GetSession reads the META# item and all MSG# items of a session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		},
		ConsistentRead:   aws.Bool(true),
		ScanIndexForward: aws.Bool(true),
	}

	var items []map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: GetSession query: %w", err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}

	var session *domain.Session
	var history []domain.ChatMessage
	for _, item := range items {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return nil, fmt.Errorf("repository: GetSession: %w", err)
		}
		switch {
		case sk == skMeta:
			session, err = c.itemToSession(sessionID, item)
			if errors.Is(err, domain.ErrSessionNotFound) {
				return nil, err
			}
		case strings.HasPrefix(sk, skPrefixMsg):
			if c.expired(item) {
				continue
			}
			var msg domain.ChatMessage
			msg, err = itemToMessage(item)
			history = append(history, msg)
		}
		if err != nil {
			return nil, fmt.Errorf("repository: GetSession unmarshal: %w", err)
		}
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	session.History = history
	return session, nil
}

// SaveSummary records the latest model summary on the session and extends
// its lifetime.
func (c *Client) SaveSummary(ctx context.Context, sessionID, summary string) error {
	ttl := c.ttlValue()
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 itemKey(sessionID, skMeta),
		UpdateExpression:    aws.String("SET summary = :summary, #ttl = :ttl"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":summary": &types.AttributeValueMemberS{Value: summary},
			":ttl":     &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("repository: SaveSummary: %w", err)
	}

	sks, err := c.messageKeys(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("repository: SaveSummary: %w", err)
	}
	if err := c.refreshTTL(ctx, sessionID, sks, ttl); err != nil {
		return fmt.Errorf("repository: SaveSummary: %w", err)
	}
	return nil
}

// AppendMessages writes msgs as turns offset, offset+1, ... in one
// transaction together with the META# ttl. A turn that already exists, or a
// missing session, fails the whole write. The earlier turns get the new ttl
// afterwards.
func (c *Client) AppendMessages(ctx context.Context, sessionID string, offset int, msgs ...domain.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	if offset < 0 {
		return errors.New("repository: AppendMessages: offset must not be negative")
	}
	if len(msgs)+1 > maxTransactItems {
		return fmt.Errorf("repository: AppendMessages: at most %d messages per call", maxTransactItems-1)
	}

	ttl := c.ttlValue()
	items := make([]types.TransactWriteItem, 0, len(msgs)+1)
	items = append(items, types.TransactWriteItem{Update: c.ttlUpdate(sessionID, skMeta, ttl)})
	for i, m := range msgs {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                messageItem(sessionID, offset+i, m, ttl),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && len(tce.CancellationReasons) > 0 &&
			aws.ToString(tce.CancellationReasons[0].Code) == "ConditionalCheckFailed" {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("repository: AppendMessages: %w", err)
	}

	earlier := make([]string, 0, offset)
	for seq := 0; seq < offset; seq++ {
		earlier = append(earlier, msgSK(seq))
	}
	if err := c.refreshTTL(ctx, sessionID, earlier, ttl); err != nil {
		return fmt.Errorf("repository: AppendMessages: %w", err)
	}
	return nil
}

// messageKeys lists the sort keys of a session's MSG# items.
func (c *Client) messageKeys(ctx context.Context, sessionID string) ([]string, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :msg)"),
		ProjectionExpression:   aws.String("SK"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":  &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":msg": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
	}

	var sks []string
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("query message keys: %w", err)
		}
		for _, item := range out.Items {
			sk, err := strAttr(item, "SK")
			if err != nil {
				return nil, err
			}
			sks = append(sks, sk)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return sks, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// refreshTTL sets ttl on existing items, maxTransactItems per transaction.
func (c *Client) refreshTTL(ctx context.Context, sessionID string, sks []string, ttl int64) error {
	for len(sks) > 0 {
		n := min(len(sks), maxTransactItems)
		items := make([]types.TransactWriteItem, 0, n)
		for _, sk := range sks[:n] {
			items = append(items, types.TransactWriteItem{Update: c.ttlUpdate(sessionID, sk, ttl)})
		}
		if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
			return fmt.Errorf("refresh ttl: %w", err)
		}
		sks = sks[n:]
	}
	return nil
}

func (c *Client) ttlUpdate(sessionID, sk string, ttl int64) *types.Update {
	return &types.Update{
		TableName:           aws.String(c.tableName),
		Key:                 itemKey(sessionID, sk),
		UpdateExpression:    aws.String("SET #ttl = :ttl"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
		},
	}
}

func itemKey(sessionID, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (c *Client) metaItem(s *domain.Session) (map[string]types.AttributeValue, error) {
	table, err := json.Marshal(s.Table)
	if err != nil {
		return nil, fmt.Errorf("marshal table: %w", err)
	}
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(s.ID)},
		"SK":        &types.AttributeValueMemberS{Value: skMeta},
		"sessionId": &types.AttributeValueMemberS{Value: s.ID},
		"fileName":  &types.AttributeValueMemberS{Value: s.FileName},
		"createdAt": &types.AttributeValueMemberS{Value: s.CreatedAt.UTC().Format(time.RFC3339)},
		"table":     &types.AttributeValueMemberS{Value: string(table)},
		"summary":   &types.AttributeValueMemberS{Value: s.Summary},
		"warning":   &types.AttributeValueMemberS{Value: s.RatioWarning},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(c.ttlValue(), 10)},
	}
	if s.Ratios != nil {
		ratios, err := json.Marshal(s.Ratios)
		if err != nil {
			return nil, fmt.Errorf("marshal ratios: %w", err)
		}
		item["ratios"] = &types.AttributeValueMemberS{Value: string(ratios)}
	}
	return item, nil
}

// expired reports whether item's ttl has passed. DynamoDB deletes expired
// items lazily, so reads must filter them.
func (c *Client) expired(item map[string]types.AttributeValue) bool {
	ttl, err := intAttr(item, "ttl")
	return err == nil && int64(ttl) < c.now().Unix()
}

func (c *Client) itemToSession(sessionID string, item map[string]types.AttributeValue) (*domain.Session, error) {
	if c.expired(item) {
		return nil, domain.ErrSessionNotFound
	}

	rawTable, err := strAttr(item, "table")
	if err != nil {
		return nil, err
	}
	s := &domain.Session{ID: sessionID}
	if err := json.Unmarshal([]byte(rawTable), &s.Table); err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}
	if rawRatios, err := strAttr(item, "ratios"); err == nil {
		var r domain.FinancialRatios
		if err := json.Unmarshal([]byte(rawRatios), &r); err != nil {
			return nil, fmt.Errorf("decode ratios: %w", err)
		}
		s.Ratios = &r
	}
	s.FileName, _ = strAttr(item, "fileName") // allow empty
	s.Summary, _ = strAttr(item, "summary")
	s.RatioWarning, _ = strAttr(item, "warning")
	if created, err := strAttr(item, "createdAt"); err == nil {
		s.CreatedAt, _ = time.Parse(time.RFC3339, created)
	}
	return s, nil
}

func messageItem(sessionID string, seq int, m domain.ChatMessage, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":      &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":      &types.AttributeValueMemberS{Value: msgSK(seq)},
		"role":    &types.AttributeValueMemberS{Value: m.Role},
		"content": &types.AttributeValueMemberS{Value: m.Content},
		"ttl":     &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

func itemToMessage(item map[string]types.AttributeValue) (domain.ChatMessage, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.ChatMessage{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return domain.ChatMessage{Role: role, Content: content}, nil
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

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
