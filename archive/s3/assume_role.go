package s3

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// assumeRoleProvider returns credentials obtained through STS AssumeRole,
// cached and refreshed before expiry.
func assumeRoleProvider(cfg aws.Config, r role) aws.CredentialsProvider {
	provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), r.arn, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = r.sessionName
		if r.externalID != "" {
			o.ExternalID = aws.String(r.externalID)
		}
	})
	return aws.NewCredentialsCache(provider)
}
