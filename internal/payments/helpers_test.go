package payments

import (
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func transactInput(items []types.TransactWriteItem) *dyn.TransactWriteItemsInput {
	return &dyn.TransactWriteItemsInput{TransactItems: items}
}
