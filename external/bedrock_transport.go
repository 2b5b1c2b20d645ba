// Package external holds the transports for services outside the gateway.
//
// bedrock_transport.go provides an http.RoundTripper that signs every request with AWS SigV4 for
// the bedrock-runtime service. Credentials come either from the caller
// (x-amz-* headers forwarded by the gateway) or from the standard AWS chain.
package external

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

const (
	// DefaultBedrockRegion is used when neither the caller nor the config names one.
	DefaultBedrockRegion = "us-east-1"

	bedrockSigningName = "bedrock"
	bedrockHostPattern = "https://bedrock-runtime.%s.amazonaws.com"
)

// AWSCredentials are explicit caller credentials. An empty AccessKeyID
// means "use the default credential chain".
type AWSCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

// IsSet reports whether static credentials were supplied.
func (c AWSCredentials) IsSet() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// BedrockEndpoint returns the bedrock-runtime base URL for a region.
func BedrockEndpoint(region string) string {
	if region == "" {
		region = DefaultBedrockRegion
	}
	return fmt.Sprintf(bedrockHostPattern, region)
}

// BedrockSigningTransport is an http.RoundTripper that signs requests with AWS SigV4.
type BedrockSigningTransport struct {
	credentials aws.CredentialsProvider
	region      string
	signer      *v4.Signer
	base        http.RoundTripper
	now         func() time.Time
}

// NewBedrockSigningTransport creates a transport that signs requests for bedrock-runtime.
// Static credentials are used when set; otherwise the default AWS chain is loaded
// and probed once so misconfiguration fails at client creation instead of per call.
// The base transport is used for the actual HTTP call (nil uses http.DefaultTransport).
func NewBedrockSigningTransport(ctx context.Context, creds AWSCredentials, base http.RoundTripper) (*BedrockSigningTransport, error) {
	region := creds.Region
	if region == "" {
		region = DefaultBedrockRegion
	}
	if base == nil {
		base = http.DefaultTransport
	}

	var provider aws.CredentialsProvider
	if creds.IsSet() {
		provider = credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)
	} else {
		cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
			return nil, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
		}
		provider = cfg.Credentials
	}

	return &BedrockSigningTransport{
		credentials: aws.NewCredentialsCache(provider),
		region:      region,
		signer:      v4.NewSigner(),
		base:        base,
		now:         time.Now,
	}, nil
}

// Region returns the signing region.
func (t *BedrockSigningTransport) Region() string {
	return t.region
}

// RoundTrip implements http.RoundTripper. It signs the request with SigV4 before sending.
func (t *BedrockSigningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())

	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body for signing: %w", err)
		}
	}

	creds, err := t.credentials.Retrieve(req.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}

	payloadHash := fmt.Sprintf("%x", sha256.Sum256(body))
	err = t.signer.SignHTTP(req.Context(), creds, req, payloadHash, bedrockSigningName, t.region, t.now())
	if err != nil {
		return nil, fmt.Errorf("failed to sign Bedrock request: %w", err)
	}

	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))

	return t.base.RoundTrip(req)
}
