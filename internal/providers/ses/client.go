// Package ses exposes the subset of the SES v2 identity API used for custom mail domains.
package ses

import (
	"context"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/smallbiznis/memberhub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type API interface {
	GetEmailIdentity(ctx context.Context, params *sesv2.GetEmailIdentityInput, optFns ...func(*sesv2.Options)) (*sesv2.GetEmailIdentityOutput, error)
	CreateEmailIdentity(ctx context.Context, params *sesv2.CreateEmailIdentityInput, optFns ...func(*sesv2.Options)) (*sesv2.CreateEmailIdentityOutput, error)
	DeleteEmailIdentity(ctx context.Context, params *sesv2.DeleteEmailIdentityInput, optFns ...func(*sesv2.Options)) (*sesv2.DeleteEmailIdentityOutput, error)
	PutEmailIdentityFeedbackAttributes(ctx context.Context, params *sesv2.PutEmailIdentityFeedbackAttributesInput, optFns ...func(*sesv2.Options)) (*sesv2.PutEmailIdentityFeedbackAttributesOutput, error)
	PutEmailIdentityMailFromAttributes(ctx context.Context, params *sesv2.PutEmailIdentityMailFromAttributesInput, optFns ...func(*sesv2.Options)) (*sesv2.PutEmailIdentityMailFromAttributesOutput, error)
}

var Module = fx.Module("providers.ses",
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns a live client in production and nil elsewhere.
func NewFromConfig(cfg config.Config, log *zap.Logger) (API, error) {
	if !cfg.IsProduction() {
		log.Named("ses").Info("ses.disabled", zap.String("environment", cfg.Environment))
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.SES.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sesv2.NewFromConfig(awsCfg), nil
}

// IsNotFound reports whether err means the identity does not exist.
func IsNotFound(err error) bool {
	var nf *types.NotFoundException
	return errors.As(err, &nf)
}
