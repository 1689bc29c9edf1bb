package adapter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aelexs/nextchapter/internal/domain"
	"github.com/aelexs/nextchapter/internal/dynamo"
	"github.com/aelexs/nextchapter/internal/realtime"
)

// documentDynamoDB is a narrow, consumer-defined interface for the DynamoDB
// operations the document store needs. *dynamodb.Client satisfies it.
type documentDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamo.DeleteItemInput, optFns ...func(*dynamo.Options)) (*dynamo.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
}

// documentItem is the DynamoDB item shape for the documents table.
// Every collection shares one table: collection is the partition key,
// doc_id the sort key, and the document body is a single map attribute.
type documentItem struct {
	Collection string         `dynamodbav:"collection"`
	DocID      string         `dynamodbav:"doc_id"`
	Fields     map[string]any `dynamodbav:"fields"`
}

// DocumentStore implements realtime.Documents on a DynamoDB table.
type DocumentStore struct {
	db        documentDynamoDB
	tableName string
}

// NewDocumentStore creates a DocumentStore backed by the given DynamoDB client.
func NewDocumentStore(db documentDynamoDB, tableName string) *DocumentStore {
	return &DocumentStore{db: db, tableName: tableName}
}

var _ realtime.Documents = (*DocumentStore)(nil)

func (s *DocumentStore) key(ref realtime.Ref) map[string]dynamo.AttributeValue {
	return map[string]dynamo.AttributeValue{
		"collection": &dynamo.AttributeValueMemberS{Value: ref.Collection},
		"doc_id":     &dynamo.AttributeValueMemberS{Value: ref.ID},
	}
}

func (s *DocumentStore) startSpan(ctx context.Context, op, collection string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "dynamo.documents."+strings.ToLower(op))
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", op),
		attribute.String("db.collection", collection),
	)
	return ctx, span
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Get reads a document with a strongly consistent read.
func (s *DocumentStore) Get(ctx context.Context, ref realtime.Ref) (realtime.Document, error) {
	ctx, span := s.startSpan(ctx, "GetItem", ref.Collection)
	defer span.End()

	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(ref),
		ConsistentRead: dynamo.Bool(true),
	})
	if err != nil {
		failSpan(span, err)
		return realtime.Document{}, fmt.Errorf("document store: get %s: %w", ref, err)
	}
	if out.Item == nil {
		return realtime.Document{}, fmt.Errorf("document store: get %s: %w", ref, domain.ErrNotFound)
	}

	return decodeDocument(out.Item)
}

// Create writes a new document, failing if one already exists at ref.
func (s *DocumentStore) Create(ctx context.Context, ref realtime.Ref, fields realtime.Fields) error {
	ctx, span := s.startSpan(ctx, "PutItem", ref.Collection)
	defer span.End()

	if err := s.put(ctx, ref, fields, true); err != nil {
		failSpan(span, err)
		return fmt.Errorf("document store: create %s: %w", ref, err)
	}
	return nil
}

// Replace writes a document, discarding whatever was stored at ref.
func (s *DocumentStore) Replace(ctx context.Context, ref realtime.Ref, fields realtime.Fields) error {
	ctx, span := s.startSpan(ctx, "PutItem", ref.Collection)
	defer span.End()

	if err := s.put(ctx, ref, fields, false); err != nil {
		failSpan(span, err)
		return fmt.Errorf("document store: replace %s: %w", ref, err)
	}
	return nil
}

func (s *DocumentStore) put(ctx context.Context, ref realtime.Ref, fields realtime.Fields, mustNotExist bool) error {
	if fields == nil {
		fields = realtime.Fields{}
	}
	item, err := dynamo.MarshalMap(documentItem{
		Collection: ref.Collection,
		DocID:      ref.ID,
		Fields:     fields,
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	input := &dynamo.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}
	if mustNotExist {
		input.ConditionExpression = dynamo.String("attribute_not_exists(doc_id)")
	}

	_, err = s.db.PutItem(ctx, input)
	return err
}

// Update sets the given fields on an existing document.
// Returns domain.ErrNotFound when the document does not exist.
func (s *DocumentStore) Update(ctx context.Context, ref realtime.Ref, fields realtime.Fields) error {
	ctx, span := s.startSpan(ctx, "UpdateItem", ref.Collection)
	defer span.End()

	err := s.update(ctx, ref, fields)
	if dynamo.IsConditionalCheckFailed(err) {
		return fmt.Errorf("document store: update %s: %w", ref, domain.ErrNotFound)
	}
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("document store: update %s: %w", ref, err)
	}
	return nil
}

// Merge sets the given fields, creating the document if it does not exist.
// A create that loses a race with a concurrent create falls back to update.
func (s *DocumentStore) Merge(ctx context.Context, ref realtime.Ref, fields realtime.Fields) error {
	ctx, span := s.startSpan(ctx, "UpdateItem", ref.Collection)
	defer span.End()

	err := s.update(ctx, ref, fields)
	if dynamo.IsConditionalCheckFailed(err) {
		err = s.put(ctx, ref, fields, true)
		if dynamo.IsConditionalCheckFailed(err) {
			err = s.update(ctx, ref, fields)
		}
	}
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("document store: merge %s: %w", ref, err)
	}
	return nil
}

// update issues SET fields.<name> = value for every field, conditional on
// the document existing. Field names are applied in sorted order so the
// generated expression is stable.
func (s *DocumentStore) update(ctx context.Context, ref realtime.Ref, fields realtime.Fields) error {
	if len(fields) == 0 {
		return fmt.Errorf("no fields to update: %w", domain.ErrInvalidInput)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		if name == "" || strings.ContainsAny(name, ".[]") {
			return fmt.Errorf("field name %q: %w", name, domain.ErrInvalidInput)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	upd := dynamo.Set("fields."+names[0], fields[names[0]])
	for _, name := range names[1:] {
		upd = upd.Set(dynamo.Name("fields."+name), dynamo.Value(fields[name]))
	}

	expr, err := dynamo.NewExpressionBuilder().
		WithUpdate(upd).
		WithCondition(dynamo.AttributeExists(dynamo.Name("doc_id"))).
		Build()
	if err != nil {
		return fmt.Errorf("build update expression: %w", err)
	}

	_, err = s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       s.key(ref),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return err
}

// Delete removes a document. Returns domain.ErrNotFound when it does not exist.
func (s *DocumentStore) Delete(ctx context.Context, ref realtime.Ref) error {
	ctx, span := s.startSpan(ctx, "DeleteItem", ref.Collection)
	defer span.End()

	_, err := s.db.DeleteItem(ctx, &dynamo.DeleteItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(ref),
		ConditionExpression: dynamo.String("attribute_exists(doc_id)"),
	})
	if dynamo.IsConditionalCheckFailed(err) {
		return fmt.Errorf("document store: delete %s: %w", ref, domain.ErrNotFound)
	}
	if err != nil {
		failSpan(span, err)
		return fmt.Errorf("document store: delete %s: %w", ref, err)
	}
	return nil
}

// List returns every document in a collection, following pagination.
func (s *DocumentStore) List(ctx context.Context, collection string) ([]realtime.Document, error) {
	ctx, span := s.startSpan(ctx, "Query", collection)
	defer span.End()

	keyExpr := "#c = :c"
	input := &dynamo.QueryInput{
		TableName:                &s.tableName,
		KeyConditionExpression:   &keyExpr,
		ExpressionAttributeNames: map[string]string{"#c": "collection"},
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":c": &dynamo.AttributeValueMemberS{Value: collection},
		},
		ConsistentRead: dynamo.Bool(true),
	}

	var docs []realtime.Document
	for {
		out, err := s.db.Query(ctx, input)
		if err != nil {
			failSpan(span, err)
			return nil, fmt.Errorf("document store: list %s: %w", collection, err)
		}
		for _, item := range out.Items {
			doc, err := decodeDocument(item)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("document store: list %s: %w", collection, err)
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	span.SetAttributes(attribute.Int("db.result_count", len(docs)))
	return docs, nil
}

func decodeDocument(av map[string]dynamo.AttributeValue) (realtime.Document, error) {
	var item documentItem
	if err := dynamo.UnmarshalMap(av, &item); err != nil {
		return realtime.Document{}, fmt.Errorf("document store: unmarshal document: %w", err)
	}
	if item.Fields == nil {
		item.Fields = map[string]any{}
	}
	return realtime.Document{ID: item.DocID, Fields: realtime.Fields(item.Fields)}, nil
}
