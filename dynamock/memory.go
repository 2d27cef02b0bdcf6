package dynamock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// MemoryClient is an in-memory DynamoDB fake. It keeps items per table in
// primary key order, evaluates key condition, filter, condition, update and
// projection expressions, and applies transactional writes atomically.
//
// Scans return items ordered by partition key, then sort key. A page ends
// with a LastEvaluatedKey only when Limit was reached and more items follow.
type MemoryClient struct {
	mu     sync.RWMutex
	tables map[string]*memTable
	tokens map[string]bool
	calls  map[string]int
	faults map[string]error
}

type memTable struct {
	spec  TableSpec
	items map[string]Item
}

var _ DynamoDBAPI = (*MemoryClient)(nil)

// NewMemoryClient creates a fake holding an empty table per spec.
func NewMemoryClient(specs ...TableSpec) *MemoryClient {
	m := &MemoryClient{
		tables: make(map[string]*memTable),
		tokens: make(map[string]bool),
		calls:  make(map[string]int),
		faults: make(map[string]error),
	}
	for _, spec := range specs {
		m.AddTable(spec)
	}
	return m
}

// AddTable creates an empty table, replacing any table with the same name.
func (m *MemoryClient) AddTable(spec TableSpec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[spec.Name] = &memTable{spec: spec.withDefaults(), items: make(map[string]Item)}
}

// Calls returns how many times the named operation (e.g. "Query") was invoked.
func (m *MemoryClient) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// FailNext makes the next call of the named operation return err.
func (m *MemoryClient) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = err
}

// Items returns a snapshot of the items of table in primary key order.
func (m *MemoryClient) Items(table string) []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[table]
	if !ok {
		return nil
	}
	items := t.sorted()
	for i := range items {
		items[i] = copyItem(items[i])
	}
	return items
}

// Len returns the number of items in table.
func (m *MemoryClient) Len(table string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tables[table]; ok {
		return len(t.items)
	}
	return 0
}

// begin records a call and returns an injected fault, if any. The caller must hold m.mu.
func (m *MemoryClient) begin(op string) error {
	m.calls[op]++
	if err, ok := m.faults[op]; ok {
		delete(m.faults, op)
		return err
	}
	return nil
}

func (m *MemoryClient) table(name *string) (*memTable, error) {
	t, ok := m.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{
			Message: aws.String(fmt.Sprintf("Requested resource not found: Table: %s not found", aws.ToString(name))),
		}
	}
	return t, nil
}

func validationError(format string, args ...any) error {
	return &smithy.GenericAPIError{
		Code:    "ValidationException",
		Message: fmt.Sprintf(format, args...),
		Fault:   smithy.FaultClient,
	}
}

// CreateTable creates an empty table from the key schema of params.
func (m *MemoryClient) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	spec, err := specFromCreateTable(params)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("CreateTable"); err != nil {
		return nil, err
	}
	if _, exists := m.tables[spec.Name]; exists {
		return nil, &types.ResourceInUseException{Message: aws.String("Table already exists: " + spec.Name)}
	}
	m.tables[spec.Name] = &memTable{spec: spec, items: make(map[string]Item)}
	return &dynamodb.CreateTableOutput{TableDescription: spec.description()}, nil
}

// DeleteTable drops a table and its items.
func (m *MemoryClient) DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("DeleteTable"); err != nil {
		return nil, err
	}
	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	delete(m.tables, t.spec.Name)
	return &dynamodb.DeleteTableOutput{TableDescription: t.spec.description()}, nil
}

// DescribeTable returns the key schema of a table.
func (m *MemoryClient) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("DescribeTable"); err != nil {
		return nil, err
	}
	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	desc := t.spec.description()
	desc.ItemCount = aws.Int64(int64(len(t.items)))
	return &dynamodb.DescribeTableOutput{Table: desc}, nil
}

// ListTables returns the table names in lexical order.
func (m *MemoryClient) ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("ListTables"); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return &dynamodb.ListTablesOutput{TableNames: names}, nil
}

// PutItem stores an item, replacing any item with the same key.
func (m *MemoryClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("PutItem"); err != nil {
		return nil, err
	}
	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	key, err := t.keyOf(params.Item)
	if err != nil {
		return nil, err
	}

	old := t.items[key]
	env := exprEnv{params.ExpressionAttributeNames, params.ExpressionAttributeValues}
	if err := checkCondition(params.ConditionExpression, env, old); err != nil {
		return nil, err
	}

	t.items[key] = copyItem(params.Item)

	out := &dynamodb.PutItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld && old != nil {
		out.Attributes = copyItem(old)
	}
	return out, nil
}

// GetItem retrieves an item by key.
func (m *MemoryClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("GetItem"); err != nil {
		return nil, err
	}
	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	key, err := t.keyOf(params.Key)
	if err != nil {
		return nil, err
	}

	item, ok := t.items[key]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	item, err = project(copyItem(item), aws.ToString(params.ProjectionExpression), params.ExpressionAttributeNames)
	if err != nil {
		return nil, validationError("%v", err)
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

// UpdateItem applies an update expression, creating the item when missing.
func (m *MemoryClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("UpdateItem"); err != nil {
		return nil, err
	}
	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}

	env := exprEnv{params.ExpressionAttributeNames, params.ExpressionAttributeValues}
	old, updated, err := t.update(params.Key, params.UpdateExpression, params.ConditionExpression, env)
	if err != nil {
		return nil, err
	}

	out := &dynamodb.UpdateItemOutput{}
	switch params.ReturnValues {
	case types.ReturnValueAllNew:
		out.Attributes = copyItem(updated)
	case types.ReturnValueAllOld:
		out.Attributes = copyItem(old)
	}
	return out, nil
}

// DeleteItem removes an item by key.
func (m *MemoryClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("DeleteItem"); err != nil {
		return nil, err
	}
	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	key, err := t.keyOf(params.Key)
	if err != nil {
		return nil, err
	}

	old := t.items[key]
	env := exprEnv{params.ExpressionAttributeNames, params.ExpressionAttributeValues}
	if err := checkCondition(params.ConditionExpression, env, old); err != nil {
		return nil, err
	}
	delete(t.items, key)

	out := &dynamodb.DeleteItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld && old != nil {
		out.Attributes = copyItem(old)
	}
	return out, nil
}

// Query reads the items matching a key condition.
func (m *MemoryClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("Query"); err != nil {
		return nil, err
	}
	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(aws.ToString(params.KeyConditionExpression)) == "" {
		return nil, validationError("Either the KeyConditions or KeyConditionExpression parameter must be specified in the request.")
	}

	env := exprEnv{params.ExpressionAttributeNames, params.ExpressionAttributeValues}
	var candidates []Item
	for _, item := range t.sorted() {
		ok, err := evalCondition(aws.ToString(params.KeyConditionExpression), env, item)
		if err != nil {
			return nil, validationError("%v", err)
		}
		if ok {
			candidates = append(candidates, item)
		}
	}
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(candidates)-1; i < j; i, j = i+1, j-1 {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		}
	}

	res, err := t.read(candidates, readParams{
		startKey:   params.ExclusiveStartKey,
		limit:      params.Limit,
		filter:     aws.ToString(params.FilterExpression),
		projection: aws.ToString(params.ProjectionExpression),
		sel:        params.Select,
		env:        env,
	})
	if err != nil {
		return nil, err
	}
	return &dynamodb.QueryOutput{
		Items:            res.items,
		Count:            res.count,
		ScannedCount:     res.scanned,
		LastEvaluatedKey: res.lastKey,
	}, nil
}

// Scan reads every item of a table in primary key order.
func (m *MemoryClient) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("Scan"); err != nil {
		return nil, err
	}
	t, err := m.table(params.TableName)
	if err != nil {
		return nil, err
	}

	res, err := t.read(t.sorted(), readParams{
		startKey:   params.ExclusiveStartKey,
		limit:      params.Limit,
		filter:     aws.ToString(params.FilterExpression),
		projection: aws.ToString(params.ProjectionExpression),
		sel:        params.Select,
		env:        exprEnv{params.ExpressionAttributeNames, params.ExpressionAttributeValues},
	})
	if err != nil {
		return nil, err
	}
	return &dynamodb.ScanOutput{
		Items:            res.items,
		Count:            res.count,
		ScannedCount:     res.scanned,
		LastEvaluatedKey: res.lastKey,
	}, nil
}

// BatchWriteItem applies up to 25 puts and deletes. Nothing is left unprocessed.
func (m *MemoryClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("BatchWriteItem"); err != nil {
		return nil, err
	}

	total := 0
	for name, reqs := range params.RequestItems {
		if _, err := m.table(aws.String(name)); err != nil {
			return nil, err
		}
		total += len(reqs)
	}
	if total == 0 || total > 25 {
		return nil, validationError("Too many items requested for the BatchWriteItem call: %d", total)
	}

	for name, reqs := range params.RequestItems {
		t := m.tables[name]
		for _, req := range reqs {
			switch {
			case req.PutRequest != nil:
				key, err := t.keyOf(req.PutRequest.Item)
				if err != nil {
					return nil, err
				}
				t.items[key] = copyItem(req.PutRequest.Item)
			case req.DeleteRequest != nil:
				key, err := t.keyOf(req.DeleteRequest.Key)
				if err != nil {
					return nil, err
				}
				delete(t.items, key)
			}
		}
	}
	return &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}, nil
}

// TransactWriteItems checks every condition first and applies all writes
// only when all of them pass. A repeated ClientRequestToken is acknowledged
// without applying the writes again.
func (m *MemoryClient) TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin("TransactWriteItems"); err != nil {
		return nil, err
	}

	if n := len(params.TransactItems); n == 0 || n > 100 {
		return nil, validationError("Member must have length between 1 and 100, got %d", n)
	}

	token := aws.ToString(params.ClientRequestToken)
	if token != "" && m.tokens[token] {
		return &dynamodb.TransactWriteItemsOutput{}, nil
	}

	staged := make(map[string]map[string]Item)
	stage := func(t *memTable) map[string]Item {
		if s, ok := staged[t.spec.Name]; ok {
			return s
		}
		s := make(map[string]Item, len(t.items))
		for k, v := range t.items {
			s[k] = v
		}
		staged[t.spec.Name] = s
		return s
	}

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	seen := make(map[string]bool)

	for i, ti := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}

		var (
			tableName *string
			keyItem   Item
			cond      *string
			env       exprEnv
		)
		switch {
		case ti.Put != nil:
			tableName, keyItem, cond = ti.Put.TableName, ti.Put.Item, ti.Put.ConditionExpression
			env = exprEnv{ti.Put.ExpressionAttributeNames, ti.Put.ExpressionAttributeValues}
		case ti.Update != nil:
			tableName, keyItem, cond = ti.Update.TableName, ti.Update.Key, ti.Update.ConditionExpression
			env = exprEnv{ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues}
		case ti.Delete != nil:
			tableName, keyItem, cond = ti.Delete.TableName, ti.Delete.Key, ti.Delete.ConditionExpression
			env = exprEnv{ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues}
		case ti.ConditionCheck != nil:
			tableName, keyItem, cond = ti.ConditionCheck.TableName, ti.ConditionCheck.Key, ti.ConditionCheck.ConditionExpression
			env = exprEnv{ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues}
		default:
			return nil, validationError("transact item %d has no operation", i)
		}

		t, err := m.table(tableName)
		if err != nil {
			return nil, err
		}
		key, err := t.keyOf(keyItem)
		if err != nil {
			return nil, err
		}
		if seen[t.spec.Name+"/"+key] {
			return nil, validationError("Transaction request cannot include multiple operations on one item")
		}
		seen[t.spec.Name+"/"+key] = true

		items := stage(t)
		if err := checkCondition(cond, env, items[key]); err != nil {
			reasons[i] = types.CancellationReason{
				Code:    aws.String("ConditionalCheckFailed"),
				Message: aws.String("The conditional request failed"),
			}
			failed = true
			continue
		}

		switch {
		case ti.Put != nil:
			items[key] = copyItem(ti.Put.Item)
		case ti.Delete != nil:
			delete(items, key)
		case ti.Update != nil:
			updated := copyItem(items[key])
			if updated == nil {
				updated = copyItem(ti.Update.Key)
			}
			if err := applyUpdate(updated, aws.ToString(ti.Update.UpdateExpression), env); err != nil {
				return nil, validationError("%v", err)
			}
			items[key] = updated
		}
	}

	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	for name, items := range staged {
		m.tables[name].items = items
	}
	if token != "" {
		m.tokens[token] = true
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func checkCondition(cond *string, env exprEnv, existing Item) error {
	if cond == nil {
		return nil
	}
	if existing == nil {
		existing = Item{}
	}
	ok, err := evalCondition(*cond, env, existing)
	if err != nil {
		return validationError("%v", err)
	}
	if !ok {
		return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	return nil
}

func (t *memTable) update(keyItem Item, updateExpr, cond *string, env exprEnv) (Item, Item, error) {
	key, err := t.keyOf(keyItem)
	if err != nil {
		return nil, nil, err
	}
	old := t.items[key]
	if err := checkCondition(cond, env, old); err != nil {
		return nil, nil, err
	}

	updated := copyItem(old)
	if updated == nil {
		updated = copyItem(keyItem)
	}
	if err := applyUpdate(updated, aws.ToString(updateExpr), env); err != nil {
		return nil, nil, validationError("%v", err)
	}
	for _, name := range t.spec.keyNames() {
		if !equal(updated[name], keyItem[name]) {
			return nil, nil, validationError("Cannot update attribute %s. This attribute is part of the key", name)
		}
	}
	t.items[key] = updated
	return old, updated, nil
}

type readParams struct {
	startKey   Item
	limit      *int32
	filter     string
	projection string
	sel        types.Select
	env        exprEnv
}

type readResult struct {
	items   []Item
	count   int32
	scanned int32
	lastKey Item
}

// read pages through candidates: it skips to the start key, evaluates up to
// limit items, then applies the filter, select and projection.
func (t *memTable) read(candidates []Item, p readParams) (readResult, error) {
	if len(p.startKey) > 0 {
		start, err := t.keyOf(p.startKey)
		if err != nil {
			return readResult{}, err
		}
		idx := -1
		for i, item := range candidates {
			if k, _ := t.keyOf(item); k == start {
				idx = i
				break
			}
		}
		if idx >= 0 {
			candidates = candidates[idx+1:]
		} else {
			candidates = t.skipThrough(candidates, p.startKey)
		}
	}

	var res readResult
	if p.limit != nil && *p.limit <= 0 {
		return res, validationError("Limit must be greater than or equal to 1")
	}
	if p.limit != nil && int(*p.limit) < len(candidates) {
		last := candidates[*p.limit-1]
		res.lastKey = t.keyItem(last)
		candidates = candidates[:*p.limit]
	}

	res.scanned = int32(len(candidates))
	for _, item := range candidates {
		ok, err := evalCondition(p.filter, p.env, item)
		if err != nil {
			return readResult{}, validationError("%v", err)
		}
		if !ok {
			continue
		}
		res.count++
		if p.sel == types.SelectCount {
			continue
		}
		out, err := project(copyItem(item), p.projection, p.env.names)
		if err != nil {
			return readResult{}, validationError("%v", err)
		}
		res.items = append(res.items, out)
	}
	return res, nil
}

// skipThrough drops candidates ordered at or before key. It handles start
// keys that no longer exist in the table.
func (t *memTable) skipThrough(candidates []Item, key Item) []Item {
	for i, item := range candidates {
		if t.cmp(item, key) > 0 {
			return candidates[i:]
		}
	}
	return nil
}

func (t *memTable) cmp(a, b Item) int {
	for _, name := range t.spec.keyNames() {
		if c, ok := compare(a[name], b[name]); ok && c != 0 {
			return c
		}
	}
	return 0
}

func (t *memTable) sorted() []Item {
	items := make([]Item, 0, len(t.items))
	for _, item := range t.items {
		items = append(items, item)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return t.cmp(items[i], items[j]) < 0
	})
	return items
}

func (t *memTable) keyItem(item Item) Item {
	key := Item{}
	for _, name := range t.spec.keyNames() {
		key[name] = item[name]
	}
	return key
}

// keyOf returns a string identity for the primary key of item.
func (t *memTable) keyOf(item Item) (string, error) {
	var parts []string
	for _, name := range t.spec.keyNames() {
		v, ok := item[name]
		if !ok {
			return "", validationError("The provided key element does not match the schema: missing %s", name)
		}
		switch av := v.(type) {
		case *types.AttributeValueMemberS:
			parts = append(parts, "S:"+av.Value)
		case *types.AttributeValueMemberN:
			parts = append(parts, "N:"+normalizeNumber(av.Value))
		case *types.AttributeValueMemberB:
			parts = append(parts, fmt.Sprintf("B:%x", av.Value))
		default:
			return "", validationError("The provided key element does not match the schema: %s has type %s", name, typeName(v))
		}
	}
	return strings.Join(parts, "\x00"), nil
}

func copyItem(item Item) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

// IsNotFound reports whether err is a ResourceNotFoundException.
func IsNotFound(err error) bool {
	var notFound *types.ResourceNotFoundException
	return errors.As(err, &notFound)
}
