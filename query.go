package dynaorm

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// marshalQuery builds a query request from a compiled expression.
func marshalQuery(table string, expr CompiledExpression, startKey Item, limit int32, sel types.Select) *dynamodb.QueryInput {
	input := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    aws.String(expr.KeyConditionExpression),
		FilterExpression:          expr.FilterExpression,
		ProjectionExpression:      expr.ProjectionExpression,
		ExpressionAttributeNames:  expr.Names,
		ExpressionAttributeValues: expr.Values,
		Select:                    sel,
	}

	// Add limit if specified
	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	// Add start key if provided
	if startKey != nil {
		input.ExclusiveStartKey = startKey
	}

	return input
}

// marshalScan builds a scan request. Only fragments-free, filter-free
// relations scan, so the expression carries at most a projection.
func marshalScan(table string, expr CompiledExpression, startKey Item, limit int32, sel types.Select) *dynamodb.ScanInput {
	input := &dynamodb.ScanInput{
		TableName:                 aws.String(table),
		FilterExpression:          expr.FilterExpression,
		ProjectionExpression:      expr.ProjectionExpression,
		ExpressionAttributeNames:  expr.Names,
		ExpressionAttributeValues: expr.Values,
		Select:                    sel,
	}

	if limit > 0 {
		input.Limit = aws.Int32(limit)
	}

	if startKey != nil {
		input.ExclusiveStartKey = startKey
	}

	return input
}
