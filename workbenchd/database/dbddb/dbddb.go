// Package dbddb implements database.Store on DynamoDB. Permission
// records live in a single table keyed by a prefixed id ("study-…" and
// "user-…"); the study-side record and the per-user mirrors are written
// in one transaction to keep the dual-write invariant.
package dbddb

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/xerrors"

	"github.com/coder/retry"

	"github.com/researchspace/workbench/workbenchd/database"
	"github.com/researchspace/workbench/workbenchd/envs"
	"github.com/researchspace/workbench/workbenchd/studies"
)

// Client is the subset of the DynamoDB API the store uses.
type Client interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Options configures the store.
type Options struct {
	Client Client
	// StudiesTable holds study records keyed by "id".
	StudiesTable string
	// PermissionsTable holds both permission record shapes keyed by a
	// prefixed "id".
	PermissionsTable string
	// EnvironmentsTable holds environment records keyed by "id".
	EnvironmentsTable string
	// EnvironmentsByOwnerIndex is a GSI on the environments table keyed
	// by "createdBy".
	EnvironmentsByOwnerIndex string
}

// Store implements database.Store on DynamoDB.
type Store struct {
	opts Options
}

var _ database.Store = (*Store)(nil)

// New validates the options and returns a store.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, xerrors.New("dynamodb client is required")
	}
	for _, table := range []string{opts.StudiesTable, opts.PermissionsTable, opts.EnvironmentsTable} {
		if table == "" {
			return nil, xerrors.New("all table names are required")
		}
	}
	if opts.EnvironmentsByOwnerIndex == "" {
		return nil, xerrors.New("environments-by-owner index name is required")
	}
	return &Store{opts: opts}, nil
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

func studyPermissionsKey(studyID string) string { return "study-" + studyID }
func userPermissionsKey(uid string) string      { return "user-" + uid }

func idKey(id string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"id": &ddbtypes.AttributeValueMemberS{Value: id},
	}
}

type studyRow struct {
	ID         string        `dynamodbav:"id"`
	Category   string        `dynamodbav:"category"`
	AccessType string        `dynamodbav:"accessType,omitempty"`
	Resources  []resourceRow `dynamodbav:"resources,omitempty"`
	Rev        int64         `dynamodbav:"rev"`
}

type resourceRow struct {
	ARN string `dynamodbav:"arn"`
}

func toStudyRow(study studies.Study) studyRow {
	row := studyRow{
		ID:         study.ID,
		Category:   string(study.Category),
		AccessType: string(study.AccessType),
		Rev:        study.Rev,
	}
	for _, r := range study.Resources {
		row.Resources = append(row.Resources, resourceRow{ARN: r.ARN})
	}
	return row
}

func (r studyRow) toStudy() studies.Study {
	study := studies.Study{
		ID:         r.ID,
		Category:   studies.Category(r.Category),
		AccessType: studies.AccessType(r.AccessType),
		Rev:        r.Rev,
	}
	for _, res := range r.Resources {
		study.Resources = append(study.Resources, studies.Resource{ARN: res.ARN})
	}
	return study
}

type permissionsRow struct {
	ID             string   `dynamodbav:"id"`
	AdminUsers     []string `dynamodbav:"adminUsers,omitempty"`
	ReadonlyUsers  []string `dynamodbav:"readonlyUsers,omitempty"`
	ReadwriteUsers []string `dynamodbav:"readwriteUsers,omitempty"`
	WriteonlyUsers []string `dynamodbav:"writeonlyUsers,omitempty"`
}

type userPermissionsRow struct {
	ID              string   `dynamodbav:"id"`
	AdminAccess     []string `dynamodbav:"adminAccess,omitempty"`
	ReadonlyAccess  []string `dynamodbav:"readonlyAccess,omitempty"`
	ReadwriteAccess []string `dynamodbav:"readwriteAccess,omitempty"`
	WriteonlyAccess []string `dynamodbav:"writeonlyAccess,omitempty"`
	Rev             int64    `dynamodbav:"rev"`
}

func (r userPermissionsRow) toUserPermissions(uid string) studies.UserPermissions {
	return studies.UserPermissions{
		UID:             uid,
		AdminAccess:     r.AdminAccess,
		ReadonlyAccess:  r.ReadonlyAccess,
		ReadwriteAccess: r.ReadwriteAccess,
		WriteonlyAccess: r.WriteonlyAccess,
	}
}

type environmentRow struct {
	ID        string      `dynamodbav:"id"`
	Status    string      `dynamodbav:"status"`
	CreatedBy string      `dynamodbav:"createdBy"`
	StudyIDs  []string    `dynamodbav:"studyIds,omitempty"`
	Outputs   []outputRow `dynamodbav:"outputs,omitempty"`
}

type outputRow struct {
	Key   string `dynamodbav:"key"`
	Value string `dynamodbav:"value"`
}

func (r environmentRow) toEnvironment() envs.Environment {
	env := envs.Environment{
		ID:        r.ID,
		Status:    envs.Status(r.Status),
		CreatedBy: r.CreatedBy,
		StudyIDs:  r.StudyIDs,
	}
	for _, out := range r.Outputs {
		env.Outputs = append(env.Outputs, envs.Output{Key: out.Key, Value: out.Value})
	}
	return env
}

func (s *Store) GetStudy(ctx context.Context, id string) (studies.Study, error) {
	out, err := s.opts.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.opts.StudiesTable),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return studies.Study{}, xerrors.Errorf("get study %q: %w", id, err)
	}
	if out.Item == nil {
		return studies.Study{}, xerrors.Errorf("study %q: %w", id, database.ErrNotFound)
	}
	var row studyRow
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return studies.Study{}, xerrors.Errorf("unmarshal study %q: %w", id, err)
	}
	return row.toStudy(), nil
}

func (s *Store) UpdateStudy(ctx context.Context, study studies.Study) (studies.Study, error) {
	if _, err := s.GetStudy(ctx, study.ID); err != nil {
		return studies.Study{}, err
	}
	updated := study
	updated.Rev++
	item, err := attributevalue.MarshalMap(toStudyRow(updated))
	if err != nil {
		return studies.Study{}, xerrors.Errorf("marshal study %q: %w", study.ID, err)
	}
	_, err = s.opts.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.opts.StudiesTable),
		Item:                item,
		ConditionExpression: aws.String("rev = :rev"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":rev": &ddbtypes.AttributeValueMemberN{Value: formatInt(study.Rev)},
		},
	})
	if err != nil {
		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return studies.Study{}, xerrors.Errorf("study %q rev %d: %w", study.ID, study.Rev, database.ErrConflict)
		}
		return studies.Study{}, xerrors.Errorf("put study %q: %w", study.ID, err)
	}
	return updated, nil
}

func (s *Store) GetStudyPermissions(ctx context.Context, studyID string) (studies.Permissions, error) {
	out, err := s.opts.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.opts.PermissionsTable),
		Key:            idKey(studyPermissionsKey(studyID)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return studies.Permissions{}, xerrors.Errorf("get study permissions %q: %w", studyID, err)
	}
	if out.Item == nil {
		return studies.Permissions{StudyID: studyID}, nil
	}
	var row permissionsRow
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return studies.Permissions{}, xerrors.Errorf("unmarshal study permissions %q: %w", studyID, err)
	}
	return studies.Permissions{
		StudyID:        studyID,
		AdminUsers:     row.AdminUsers,
		ReadonlyUsers:  row.ReadonlyUsers,
		ReadwriteUsers: row.ReadwriteUsers,
		WriteonlyUsers: row.WriteonlyUsers,
	}, nil
}

func (s *Store) getUserRow(ctx context.Context, uid string) (userPermissionsRow, bool, error) {
	out, err := s.opts.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.opts.PermissionsTable),
		Key:            idKey(userPermissionsKey(uid)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return userPermissionsRow{}, false, xerrors.Errorf("get user permissions %q: %w", uid, err)
	}
	if out.Item == nil {
		return userPermissionsRow{ID: userPermissionsKey(uid)}, false, nil
	}
	var row userPermissionsRow
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return userPermissionsRow{}, false, xerrors.Errorf("unmarshal user permissions %q: %w", uid, err)
	}
	return row, true, nil
}

func (s *Store) GetUserPermissions(ctx context.Context, uid string) (studies.UserPermissions, error) {
	row, _, err := s.getUserRow(ctx, uid)
	if err != nil {
		return studies.UserPermissions{}, err
	}
	return row.toUserPermissions(uid), nil
}

// maxPermissionUpdateAttempts bounds retries when concurrent updates to
// other studies race on the same user mirror rows.
const maxPermissionUpdateAttempts = 5

// ApplyPermissionUpdate writes the study record and the per-user mirrors
// in one transaction. The study row is serialized by the caller's study
// lock, but a concurrent update to a different study can touch the same
// user rows, so each mirror write carries a rev condition and the whole
// transaction is retried when one trips.
func (s *Store) ApplyPermissionUpdate(ctx context.Context, studyID string, req *studies.UpdateRequest) (studies.Permissions, error) {
	r := retry.New(10*time.Millisecond, 250*time.Millisecond)
	for attempt := 1; ; attempt++ {
		perms, err := s.applyPermissionUpdateOnce(ctx, studyID, req)
		if err == nil {
			return perms, nil
		}
		if !isTransactConflict(err) {
			return studies.Permissions{}, err
		}
		if attempt == maxPermissionUpdateAttempts {
			return studies.Permissions{}, xerrors.Errorf("permission update for study %q after %d attempts: %w", studyID, attempt, database.ErrConflict)
		}
		if !r.Wait(ctx) {
			return studies.Permissions{}, xerrors.Errorf("permission update for study %q: %w", studyID, ctx.Err())
		}
	}
}

func isTransactConflict(err error) bool {
	var tce *ddbtypes.TransactionCanceledException
	if !errors.As(err, &tce) {
		return false
	}
	for _, reason := range tce.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

func (s *Store) applyPermissionUpdateOnce(ctx context.Context, studyID string, req *studies.UpdateRequest) (studies.Permissions, error) {
	perms, err := s.GetStudyPermissions(ctx, studyID)
	if err != nil {
		return studies.Permissions{}, err
	}
	studies.ApplyUpdateRequest(&perms, req)

	writes := make([]ddbtypes.TransactWriteItem, 0, 1+len(req.ImpactedUsers()))
	studyItem, err := attributevalue.MarshalMap(permissionsRow{
		ID:             studyPermissionsKey(studyID),
		AdminUsers:     perms.AdminUsers,
		ReadonlyUsers:  perms.ReadonlyUsers,
		ReadwriteUsers: perms.ReadwriteUsers,
		WriteonlyUsers: perms.WriteonlyUsers,
	})
	if err != nil {
		return studies.Permissions{}, xerrors.Errorf("marshal study permissions %q: %w", studyID, err)
	}
	writes = append(writes, ddbtypes.TransactWriteItem{
		Put: &ddbtypes.Put{
			TableName: aws.String(s.opts.PermissionsTable),
			Item:      studyItem,
		},
	})

	for _, uid := range req.ImpactedUsers() {
		row, exists, err := s.getUserRow(ctx, uid)
		if err != nil {
			return studies.Permissions{}, err
		}
		user := row.toUserPermissions(uid)
		studies.ApplyUserUpdate(&user, studyID, *req)
		userItem, err := attributevalue.MarshalMap(userPermissionsRow{
			ID:              userPermissionsKey(uid),
			AdminAccess:     user.AdminAccess,
			ReadonlyAccess:  user.ReadonlyAccess,
			ReadwriteAccess: user.ReadwriteAccess,
			WriteonlyAccess: user.WriteonlyAccess,
			Rev:             row.Rev + 1,
		})
		if err != nil {
			return studies.Permissions{}, xerrors.Errorf("marshal user permissions %q: %w", uid, err)
		}
		put := &ddbtypes.Put{
			TableName: aws.String(s.opts.PermissionsTable),
			Item:      userItem,
		}
		switch {
		case exists && row.Rev > 0:
			put.ConditionExpression = aws.String("rev = :rev")
			put.ExpressionAttributeValues = map[string]ddbtypes.AttributeValue{
				":rev": &ddbtypes.AttributeValueMemberN{Value: formatInt(row.Rev)},
			}
		case exists:
			// Row predates rev tracking.
			put.ConditionExpression = aws.String("attribute_not_exists(rev)")
		default:
			put.ConditionExpression = aws.String("attribute_not_exists(id)")
		}
		writes = append(writes, ddbtypes.TransactWriteItem{Put: put})
	}

	_, err = s.opts.Client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: writes,
	})
	if err != nil {
		if isTransactConflict(err) {
			return studies.Permissions{}, err
		}
		return studies.Permissions{}, xerrors.Errorf("write permission update for study %q: %w", studyID, err)
	}
	return perms, nil
}

func (s *Store) GetEnvironment(ctx context.Context, id string) (envs.Environment, error) {
	out, err := s.opts.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.opts.EnvironmentsTable),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return envs.Environment{}, xerrors.Errorf("get environment %q: %w", id, err)
	}
	if out.Item == nil {
		return envs.Environment{}, xerrors.Errorf("environment %q: %w", id, database.ErrNotFound)
	}
	var row environmentRow
	if err := attributevalue.UnmarshalMap(out.Item, &row); err != nil {
		return envs.Environment{}, xerrors.Errorf("unmarshal environment %q: %w", id, err)
	}
	return row.toEnvironment(), nil
}

func (s *Store) GetActiveEnvironmentsForUser(ctx context.Context, uid string) ([]envs.Environment, error) {
	var (
		out     []envs.Environment
		lastKey map[string]ddbtypes.AttributeValue
	)
	for {
		page, err := s.opts.Client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.opts.EnvironmentsTable),
			IndexName:              aws.String(s.opts.EnvironmentsByOwnerIndex),
			KeyConditionExpression: aws.String("createdBy = :uid"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":uid": &ddbtypes.AttributeValueMemberS{Value: uid},
			},
			ExclusiveStartKey: lastKey,
		})
		if err != nil {
			return nil, xerrors.Errorf("query environments for user %q: %w", uid, err)
		}
		for _, item := range page.Items {
			var row environmentRow
			if err := attributevalue.UnmarshalMap(item, &row); err != nil {
				return nil, xerrors.Errorf("unmarshal environment for user %q: %w", uid, err)
			}
			env := row.toEnvironment()
			if env.Status.Active() {
				out = append(out, env)
			}
		}
		if page.LastEvaluatedKey == nil {
			break
		}
		lastKey = page.LastEvaluatedKey
	}
	return out, nil
}
