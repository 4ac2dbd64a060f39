package security

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/goliatone/go-fiware-sync/core"
)

// SecretsManagerAPI is the subset of the Secrets Manager client used for
// credential lookups.
type SecretsManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
}

type AWSSecretsManagerResolver struct {
	client SecretsManagerAPI
}

// NewAWSSecretsManagerResolver loads the default AWS credential chain.
func NewAWSSecretsManagerResolver(ctx context.Context, region string) (*AWSSecretsManagerResolver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region = strings.TrimSpace(region); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, core.NewInternalError("security: load aws config", err)
	}
	return NewAWSSecretsManagerResolverWithClient(secretsmanager.NewFromConfig(cfg)), nil
}

func NewAWSSecretsManagerResolverWithClient(client SecretsManagerAPI) *AWSSecretsManagerResolver {
	return &AWSSecretsManagerResolver{client: client}
}

// Resolve fetches secretID. A "#key" suffix selects one field of a JSON
// secret string.
func (r *AWSSecretsManagerResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if r == nil || r.client == nil {
		return "", core.NewInternalError("security: secrets manager client is not configured", nil)
	}
	secretID, field, _ := strings.Cut(strings.TrimSpace(ref), "#")
	if secretID == "" {
		return "", core.NewInternalError("security: secret id is required", nil)
	}

	output, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", core.NewInternalError(fmt.Sprintf("security: get secret %q", secretID), err)
	}
	if output == nil || output.SecretString == nil {
		return "", core.NewInternalError(fmt.Sprintf("security: secret %q has no string value", secretID), nil)
	}
	value := aws.ToString(output.SecretString)
	if field == "" {
		return value, nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		return "", core.NewInternalError(fmt.Sprintf("security: secret %q is not a json object", secretID), err)
	}
	raw, ok := fields[field]
	if !ok {
		return "", core.NewInternalError(fmt.Sprintf("security: secret %q has no key %q", secretID, field), nil)
	}
	if s, ok := raw.(string); ok {
		return s, nil
	}
	return fmt.Sprint(raw), nil
}
