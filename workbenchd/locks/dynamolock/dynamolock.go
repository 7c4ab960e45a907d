// Package dynamolock implements locks.Locker as a DynamoDB lease: a
// conditional put acquires the named lock, a conditional delete releases
// it, and an expiry timestamp lets a crashed holder's lease lapse.
package dynamolock

import (
	"context"
	"errors"
	"strconv"
	"time"

	"cdr.dev/slog"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"github.com/coder/quartz"
	"github.com/coder/retry"

	"github.com/researchspace/workbench/workbenchd/locks"
)

// Client is the subset of the DynamoDB API the locker uses.
type Client interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Options configures the locker.
type Options struct {
	Logger slog.Logger
	Client Client
	// Table is keyed by "id" (the lock name).
	Table string
	// TTL bounds how long a crashed holder can block others. Defaults to
	// two minutes.
	TTL   time.Duration
	Clock quartz.Clock
}

// Locker implements locks.Locker on DynamoDB.
type Locker struct {
	opts Options
}

var _ locks.Locker = (*Locker)(nil)

// New validates the options and returns a locker.
func New(opts Options) (*Locker, error) {
	if opts.Client == nil {
		return nil, xerrors.New("dynamodb client is required")
	}
	if opts.Table == "" {
		return nil, xerrors.New("lock table name is required")
	}
	if opts.TTL == 0 {
		opts.TTL = 2 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	opts.Logger = opts.Logger.Named("dynamolock")
	return &Locker{opts: opts}, nil
}

func (l *Locker) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()
	if err := l.acquire(ctx, name, token); err != nil {
		return err
	}
	defer l.release(name, token)
	return fn(ctx)
}

func (l *Locker) acquire(ctx context.Context, name, token string) error {
	r := retry.New(250*time.Millisecond, 5*time.Second)
	for {
		now := l.opts.Clock.Now()
		_, err := l.opts.Client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(l.opts.Table),
			Item: map[string]ddbtypes.AttributeValue{
				"id":        &ddbtypes.AttributeValueMemberS{Value: name},
				"owner":     &ddbtypes.AttributeValueMemberS{Value: token},
				"expiresAt": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(l.opts.TTL).UnixMilli(), 10)},
			},
			ConditionExpression: aws.String("attribute_not_exists(id) OR expiresAt < :now"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":now": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
			},
		})
		if err == nil {
			return nil
		}
		var ccf *ddbtypes.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return xerrors.Errorf("acquire lock %q: %w", name, err)
		}
		// Held by someone else; wait and retry until ctx gives up.
		if !r.Wait(ctx) {
			return xerrors.Errorf("acquire lock %q: %w", name, ctx.Err())
		}
	}
}

func (l *Locker) release(name, token string) {
	// Release must not inherit the caller's (possibly canceled) context.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := l.opts.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(l.opts.Table),
		Key: map[string]ddbtypes.AttributeValue{
			"id": &ddbtypes.AttributeValueMemberS{Value: name},
		},
		ConditionExpression: aws.String("#owner = :token"),
		ExpressionAttributeNames: map[string]string{
			"#owner": "owner",
		},
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":token": &ddbtypes.AttributeValueMemberS{Value: token},
		},
	})
	if err != nil {
		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// The lease expired and was taken over; nothing to release.
			return
		}
		// The lock stays held until the ttl lapses.
		l.opts.Logger.Warn(ctx, "failed to release lock",
			slog.F("name", name),
			slog.Error(err),
		)
	}
}
