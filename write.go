package dynaorm

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Create puts rec into the table, replacing any record with the same key.
// Inside a transaction the put is buffered and the result is optimistic.
func (t *Table) Create(ctx context.Context, rec Record) (WriteResult, error) {
	item, err := MarshalRecord(rec)
	if err != nil {
		return WriteResult{}, err
	}

	if buf, ok := activeTx(ctx); ok {
		err := buf.enqueue(WriteIntent{
			Kind:      IntentPut,
			TableName: t.name,
			Put:       &types.Put{TableName: aws.String(t.name), Item: item},
		})
		if err != nil {
			return WriteResult{}, err
		}
		return optimistic(mergeRecords(rec)), nil
	}

	client, err := t.db.api()
	if err != nil {
		return WriteResult{}, err
	}

	out, err := client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:    aws.String(t.name),
		Item:         item,
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return WriteResult{}, fmt.Errorf("failed to put item into %s: %w", t.name, err)
	}

	previous, err := UnmarshalRecord(out.Attributes)
	if err != nil {
		return WriteResult{}, err
	}

	result := confirmed(mergeRecords(rec))
	result.Previous = previous
	return result, nil
}

// Update sets the attributes of changes on the record identified by key,
// creating the record when it does not exist. Key attributes in changes are
// ignored. Inside a transaction the update is buffered and the result holds
// the key and changes only.
func (t *Table) Update(ctx context.Context, key Record, changes Record) (WriteResult, error) {
	keyItem, schema, err := t.marshalKey(ctx, key)
	if err != nil {
		return WriteResult{}, err
	}

	var (
		update expression.UpdateBuilder
		set    = Record{}
	)
	for _, name := range sortedKeys(changes) {
		if schema.IsKey(name) {
			continue
		}
		if len(set) == 0 {
			update = expression.Set(expression.Name(name), expression.Value(changes[name]))
		} else {
			update = update.Set(expression.Name(name), expression.Value(changes[name]))
		}
		set[name] = changes[name]
	}
	if len(set) == 0 {
		return WriteResult{}, fmt.Errorf("%w: table %s", ErrEmptyUpdate, t.name)
	}

	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return WriteResult{}, fmt.Errorf("failed to build update expression: %w", err)
	}

	if buf, ok := activeTx(ctx); ok {
		err := buf.enqueue(WriteIntent{
			Kind:      IntentUpdate,
			TableName: t.name,
			Update: &types.Update{
				TableName:                 aws.String(t.name),
				Key:                       keyItem,
				UpdateExpression:          expr.Update(),
				ExpressionAttributeNames:  expr.Names(),
				ExpressionAttributeValues: expr.Values(),
			},
		})
		if err != nil {
			return WriteResult{}, err
		}
		return optimistic(mergeRecords(schema.KeyOf(key), set)), nil
	}

	client, err := t.db.api()
	if err != nil {
		return WriteResult{}, err
	}

	out, err := client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(t.name),
		Key:                       keyItem,
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		return WriteResult{}, fmt.Errorf("failed to update item in %s: %w", t.name, err)
	}

	rec, err := UnmarshalRecord(out.Attributes)
	if err != nil {
		return WriteResult{}, err
	}
	return confirmed(rec), nil
}

// Delete removes the record identified by key and returns the removed record.
// The result item is nil when nothing was stored under key. Inside a
// transaction the delete is buffered and the result holds the key only.
func (t *Table) Delete(ctx context.Context, key Record) (WriteResult, error) {
	keyItem, schema, err := t.marshalKey(ctx, key)
	if err != nil {
		return WriteResult{}, err
	}

	if buf, ok := activeTx(ctx); ok {
		err := buf.enqueue(WriteIntent{
			Kind:      IntentDelete,
			TableName: t.name,
			Delete:    &types.Delete{TableName: aws.String(t.name), Key: keyItem},
		})
		if err != nil {
			return WriteResult{}, err
		}
		return optimistic(schema.KeyOf(key)), nil
	}

	client, err := t.db.api()
	if err != nil {
		return WriteResult{}, err
	}

	out, err := client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(t.name),
		Key:          keyItem,
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return WriteResult{}, fmt.Errorf("failed to delete item from %s: %w", t.name, err)
	}

	old, err := UnmarshalRecord(out.Attributes)
	if err != nil {
		return WriteResult{}, err
	}
	return confirmed(old), nil
}

// TryDelete is Delete reporting success as a boolean. The error, if any, is
// logged at warn level and dropped.
func (t *Table) TryDelete(ctx context.Context, key Record) bool {
	if _, err := t.Delete(ctx, key); err != nil {
		t.db.logFailure(err, t.name, "delete")
		return false
	}
	return true
}

// Transaction is [DB.Transaction] restricted to this table: writes to other
// tables inside body fail with [ErrForeignTable].
func (t *Table) Transaction(ctx context.Context, body func(ctx context.Context) error) (*TransactionResult, error) {
	return t.db.transaction(ctx, t.name, body)
}
