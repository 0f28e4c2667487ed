package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"google.golang.org/grpc/codes"

	"github.com/trickstertwo/pbjx/eventstore"
)

// mapError classifies an AWS failure. Unclassified read failures are
// Internal; unclassified write failures are DataLoss.
func mapError(op string, err error, write bool) error {
	if err == nil {
		return nil
	}
	return eventstore.NewError(classify(err, write), op, err)
}

func classify(err error, write bool) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}

	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, r := range canceled.CancellationReasons {
			switch aws.ToString(r.Code) {
			case "ThrottlingError", "ProvisionedThroughputExceeded", "RequestLimitExceeded":
				return codes.ResourceExhausted
			case "TransactionConflict":
				return codes.Unavailable
			}
		}
		return codes.DataLoss
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "RequestLimitExceeded", "ThrottlingException", "LimitExceededException":
			return codes.ResourceExhausted
		case "ResourceNotFoundException":
			return codes.NotFound
		case "InternalServerError", "ServiceUnavailable", "TransactionInProgressException":
			return codes.Unavailable
		case "ConditionalCheckFailedException":
			return codes.DataLoss
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return codes.Unavailable
		}
	}
	if write {
		return codes.DataLoss
	}
	return codes.Internal
}

func isResourceInUse(err error) bool {
	var inUse *types.ResourceInUseException
	return errors.As(err, &inUse)
}

func notFound(eventID string) error {
	return eventstore.NewError(codes.NotFound, fmt.Sprintf("event %s not found", eventID), nil)
}
