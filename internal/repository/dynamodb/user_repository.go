package dynamodb

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/ghostzx3/telegrupos-payments/internal/domain"
)

type UserRepository struct {
	client    API
	tableName string
}

func NewUserRepository(client API, tableName string) *UserRepository {
	return &UserRepository{
		client:    client,
		tableName: tableName,
	}
}

type userItem struct {
	ID    string `dynamodbav:"id"`
	Email string `dynamodbav:"email"`
	Name  string `dynamodbav:"name"`
}

func (r *UserRepository) GetPayerProfile(ctx context.Context, userID string) (*domain.PayerProfile, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key:       itemKey(userID),
	})
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}

	if result.Item == nil {
		return nil, nil
	}

	var user userItem
	if err := attributevalue.UnmarshalMap(result.Item, &user); err != nil {
		return nil, fmt.Errorf("unmarshal user %s: %w", userID, err)
	}

	return &domain.PayerProfile{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	}, nil
}
