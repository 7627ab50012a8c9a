// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package elasticsearch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// DefaultAWSService is the SigV4 service name for Amazon OpenSearch Service.
const DefaultAWSService = "es"

// AWSConfig enables SigV4 request signing for managed clusters.
type AWSConfig struct {
	Region  string `yaml:"region"`
	Service string `yaml:"service"`

	// ValidateCredentials checks the resolved credentials with STS
	// GetCallerIdentity at startup.
	ValidateCredentials bool `yaml:"validate_credentials"`
}

// sigV4Signer signs search requests with credentials from the default
// AWS credential chain. Credentials are cached for at most an hour.
type sigV4Signer struct {
	awsConfig aws.Config
	signer    *v4.Signer
	service   string
	region    string

	mu          sync.Mutex
	credentials aws.Credentials
	credExpiry  time.Time
	now         func() time.Time
}

func newSigV4Signer(ctx context.Context, cfg AWSConfig) (*sigV4Signer, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws region is required for request signing")
	}
	service := cfg.Service
	if service == "" {
		service = DefaultAWSService
	}

	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	awsCfg, err := config.LoadDefaultConfig(loadCtx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	s := &sigV4Signer{
		awsConfig: awsCfg,
		signer:    v4.NewSigner(),
		service:   service,
		region:    cfg.Region,
		now:       time.Now,
	}

	if cfg.ValidateCredentials {
		if err := s.validate(loadCtx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *sigV4Signer) validate(ctx context.Context) error {
	if _, err := s.retrieve(ctx); err != nil {
		return err
	}
	validationCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := sts.NewFromConfig(s.awsConfig).GetCallerIdentity(validationCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("AWS credential validation failed: %s", redactAccessKeys(err.Error()))
	}
	return nil
}

func (s *sigV4Signer) retrieve(ctx context.Context) (aws.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.credExpiry.IsZero() && s.now().Before(s.credExpiry) {
		return s.credentials, nil
	}
	creds, err := s.awsConfig.Credentials.Retrieve(ctx)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("unable to resolve AWS credentials: %s", redactAccessKeys(err.Error()))
	}
	expiry := creds.Expires
	if expiry.IsZero() || expiry.Sub(s.now()) > time.Hour {
		expiry = s.now().Add(time.Hour)
	}
	s.credentials, s.credExpiry = creds, expiry
	return creds, nil
}

// Sign implements httpclient.Signer.
func (s *sigV4Signer) Sign(req *http.Request, body []byte) error {
	creds, err := s.retrieve(req.Context())
	if err != nil {
		return err
	}
	return s.signer.SignHTTP(req.Context(), creds, req, payloadHash(body), s.service, s.region, s.now())
}

func payloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

var accessKeyPattern = regexp.MustCompile(`\b(AKIA|ASIA)[A-Z0-9]{16}\b`)

func redactAccessKeys(msg string) string {
	return accessKeyPattern.ReplaceAllString(msg, "${1}****")
}
