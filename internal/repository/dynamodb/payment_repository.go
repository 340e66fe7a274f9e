package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ghostzx3/telegrupos-payments/internal/domain"
)

const (
	externalMarkerPrefix = "external#"
	conditionalFailed    = "ConditionalCheckFailed"
)

// API is the subset of the DynamoDB client the repositories use.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// PaymentRepository keeps payments and their externalId markers in one table
// and applies group entitlements to the groups table.
type PaymentRepository struct {
	client      API
	tableName   string
	groupsTable string
	now         func() time.Time
}

func NewPaymentRepository(client API, tableName, groupsTable string) *PaymentRepository {
	return &PaymentRepository{
		client:      client,
		tableName:   tableName,
		groupsTable: groupsTable,
		now:         time.Now,
	}
}

type externalMarker struct {
	ID        string `dynamodbav:"id"`
	PaymentID string `dynamodbav:"payment_id"`
}

// Save writes the payment and its externalId marker together; either one
// already existing fails the whole write with a conflict.
func (r *PaymentRepository) Save(ctx context.Context, payment domain.Payment) error {
	item, err := attributevalue.MarshalMap(payment)
	if err != nil {
		return fmt.Errorf("marshal payment: %w", err)
	}
	marker, err := attributevalue.MarshalMap(externalMarker{
		ID:        externalMarkerPrefix + payment.ExternalID,
		PaymentID: payment.ID,
	})
	if err != nil {
		return fmt.Errorf("marshal external marker: %w", err)
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(id)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(r.tableName),
				Item:                marker,
				ConditionExpression: aws.String("attribute_not_exists(id)"),
			}},
		},
	})
	if err != nil {
		if reasons := cancellationReasons(err); reasons != nil {
			if reasons[0] == conditionalFailed {
				return domain.NewConflictError("payment already exists", err)
			}
			if reasons[1] == conditionalFailed {
				return domain.NewConflictError("external id already registered", err)
			}
		}
		return fmt.Errorf("save payment %s: %w", payment.ID, err)
	}
	return nil
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", id, err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var payment domain.Payment
	if err := attributevalue.UnmarshalMap(result.Item, &payment); err != nil {
		return nil, fmt.Errorf("unmarshal payment %s: %w", id, err)
	}

	return &payment, nil
}

// GetByExternalID resolves the marker, then reads the payment it points to.
func (r *PaymentRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Payment, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(externalMarkerPrefix + externalID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get external marker %s: %w", externalID, err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var marker externalMarker
	if err := attributevalue.UnmarshalMap(result.Item, &marker); err != nil {
		return nil, fmt.Errorf("unmarshal external marker %s: %w", externalID, err)
	}

	return r.GetByID(ctx, marker.PaymentID)
}

// MarkPaid flips pending to paid and writes the group entitlement in one
// transaction. A payment that is no longer pending cancels the transaction
// and is reported as applied=false.
func (r *PaymentRepository) MarkPaid(ctx context.Context, id string, paidAt time.Time, grant domain.EntitlementGrant) (bool, error) {
	groupUpdate, err := r.entitlementUpdate(grant)
	if err != nil {
		return false, err
	}

	now := r.now().UTC()
	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:                aws.String(r.tableName),
				Key:                      itemKey(id),
				UpdateExpression:         aws.String("SET #status = :paid, paid_at = :paid_at, updated_at = :updated_at"),
				ConditionExpression:      aws.String("#status = :pending"),
				ExpressionAttributeNames: map[string]string{"#status": "status"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":paid":       &types.AttributeValueMemberS{Value: string(domain.StatusPaid)},
					":pending":    &types.AttributeValueMemberS{Value: string(domain.StatusPending)},
					":paid_at":    timeValue(paidAt),
					":updated_at": timeValue(now),
				},
			}},
			{Update: groupUpdate},
		},
	})
	if err != nil {
		if reasons := cancellationReasons(err); reasons != nil {
			if reasons[0] == conditionalFailed {
				return false, nil
			}
			if reasons[1] == conditionalFailed {
				return false, domain.NewNotFoundError(fmt.Sprintf("group %s not found", grant.GroupID))
			}
		}
		return false, fmt.Errorf("mark payment %s paid: %w", id, err)
	}
	return true, nil
}

func (r *PaymentRepository) entitlementUpdate(grant domain.EntitlementGrant) (*types.Update, error) {
	values := map[string]types.AttributeValue{
		":expires_at": timeValue(grant.ExpiresAt),
		":updated_at": timeValue(r.now().UTC()),
	}

	var expr string
	switch grant.PlanType {
	case domain.PlanPremium:
		expr = "SET is_premium = :on, premium_expires_at = :expires_at, updated_at = :updated_at"
		values[":on"] = &types.AttributeValueMemberBOOL{Value: true}
	case domain.PlanFeatured:
		expr = "SET is_featured = :on, featured_expires_at = :expires_at, updated_at = :updated_at"
		values[":on"] = &types.AttributeValueMemberBOOL{Value: true}
	case domain.PlanBoost:
		expr = "SET boosted_at = :granted_at, boost_expires_at = :expires_at, updated_at = :updated_at"
		values[":granted_at"] = timeValue(grant.GrantedAt)
	default:
		return nil, domain.NewValidationError(fmt.Sprintf("unknown plan type %q", grant.PlanType), nil)
	}

	return &types.Update{
		TableName:                 aws.String(r.groupsTable),
		Key:                       itemKey(grant.GroupID),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: values,
	}, nil
}

func itemKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

// timeValue matches the encoding attributevalue uses for time.Time.
func timeValue(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: t.UTC().Format(time.RFC3339Nano)}
}

// cancellationReasons returns the per-item reason codes of a cancelled
// two-item transaction, or nil when err is not a cancellation.
func cancellationReasons(err error) []string {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil
	}
	codes := make([]string, 2)
	for i, reason := range tce.CancellationReasons {
		if i >= len(codes) {
			break
		}
		codes[i] = aws.ToString(reason.Code)
	}
	return codes
}
