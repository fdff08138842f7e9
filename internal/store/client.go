// Package store builds DynamoDB clients for the load tools and classifies
// the errors they return. Both AWS DynamoDB and ScyllaDB Alternator are
// supported targets behind the same *dynamodb.Client.
package store

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	helper "github.com/scylladb/alternator-client-golang/sdkv2"
	"go.uber.org/zap"
)

// Options selects the target store and how to reach it.
type Options struct {
	Target        string // "ddb" or "alternator"
	Region        string
	Endpoint      string // endpoint override (DynamoDB Local or a single node)
	AccessKey     string
	SecretKey     string
	ContactPoints string // comma-separated Alternator nodes
	Port          int
	Scheme        string
	Direct        bool // skip the alternator helper and hit the first node
	MaxConns      int  // HTTP connections per host (0 = 2x PoolHint)
	PoolHint      int  // worker count, used to size the connection pool
	SDKAttempts   int  // SDK-level retry attempts (1 turns SDK retries off)
}

// BindFlags registers the shared client flags on fs and returns the Options
// they populate. Call before flag.Parse.
func BindFlags(fs *flag.FlagSet) *Options {
	o := &Options{}
	fs.StringVar(&o.Target, "target", "ddb", "Target store: 'ddb' for DynamoDB or 'alternator' for ScyllaDB Alternator")
	fs.StringVar(&o.Region, "region", "us-east-1", "AWS region")
	fs.StringVar(&o.Endpoint, "endpoint", "", "Endpoint override, e.g. http://localhost:8000 for DynamoDB Local")
	fs.StringVar(&o.AccessKey, "access-key", "alternator", "Static access key used with -endpoint and alternator targets")
	fs.StringVar(&o.SecretKey, "secret-key", "secret_pass", "Static secret key used with -endpoint and alternator targets")
	fs.StringVar(&o.ContactPoints, "contact-points", "", "Comma-separated list of Alternator contact points")
	fs.IntVar(&o.Port, "port", 8000, "Alternator port")
	fs.StringVar(&o.Scheme, "scheme", "http", "Alternator scheme (http or https)")
	fs.BoolVar(&o.Direct, "direct", false, "Connect directly to the first contact point, bypassing the alternator helper")
	fs.IntVar(&o.MaxConns, "max-conns", 0, "Max HTTP connections per host (0 = 2x workers)")
	fs.IntVar(&o.SDKAttempts, "sdk-attempts", 1, "SDK retry attempts per request (batch remainders are retried by the tools themselves)")
	return o
}

// Validate checks the option combination before any client is built.
func (o *Options) Validate() error {
	if o.Target != "ddb" && o.Target != "alternator" {
		return fmt.Errorf("target must be 'ddb' or 'alternator', got %q", o.Target)
	}
	if o.Target == "alternator" && o.ContactPoints == "" {
		return fmt.Errorf("contact-points is required when target is 'alternator'")
	}
	if o.Scheme != "http" && o.Scheme != "https" {
		return fmt.Errorf("scheme must be 'http' or 'https', got %q", o.Scheme)
	}
	if o.Port < 1 || o.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", o.Port)
	}
	if o.SDKAttempts < 1 {
		return fmt.Errorf("sdk-attempts must be at least 1")
	}
	return nil
}

func (o *Options) poolSize() int {
	if o.MaxConns > 0 {
		return o.MaxConns
	}
	hint := o.PoolHint
	if hint < 1 {
		hint = 1
	}
	return hint * 2 // 2x the worker count keeps a warm connection per in-flight call
}

// httpClient returns a transport sized for the worker count. Alternator
// speaks HTTP/1.1, so forceHTTP2 is off for that target.
func (o *Options) httpClient(forceHTTP2 bool) *http.Client {
	poolSize := o.poolSize()

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     forceHTTP2,
		MaxIdleConns:          poolSize * 2,
		MaxIdleConnsPerHost:   poolSize,
		MaxConnsPerHost:       poolSize,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	if !forceHTTP2 {
		transport.WriteBufferSize = 64 * 1024
		transport.ReadBufferSize = 64 * 1024
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// NewClient builds the DynamoDB client for the configured target.
func NewClient(ctx context.Context, o *Options, logger *zap.Logger) (*dynamodb.Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	switch o.Target {
	case "ddb":
		return newDynamoDBClient(ctx, o, logger)
	case "alternator":
		return newAlternatorClient(ctx, o, logger)
	default:
		return nil, fmt.Errorf("unknown target: %s", o.Target)
	}
}

func newDynamoDBClient(ctx context.Context, o *Options, logger *zap.Logger) (*dynamodb.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(o.Region),
		config.WithHTTPClient(o.httpClient(true)),
		config.WithRetryMaxAttempts(o.SDKAttempts),
	}
	// Endpoint overrides run against local or self-hosted stores that only
	// check for the presence of credentials, not their validity.
	if o.Endpoint != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(opt *dynamodb.Options) {
		if o.Endpoint != "" {
			opt.BaseEndpoint = aws.String(o.Endpoint)
		}
	})

	logger.Info("dynamodb client ready",
		zap.String("region", o.Region),
		zap.String("endpoint", o.Endpoint),
		zap.Int("pool_size", o.poolSize()))
	return client, nil
}

func newAlternatorClient(ctx context.Context, o *Options, logger *zap.Logger) (*dynamodb.Client, error) {
	contactPoints := strings.Split(o.ContactPoints, ",")
	for i, cp := range contactPoints {
		contactPoints[i] = strings.TrimSpace(cp)
	}

	// Direct mode bypasses the alternator helper entirely and pins the SDK
	// to the first node. Useful when isolating helper overhead.
	if o.Direct {
		endpoint := fmt.Sprintf("%s://%s:%d", o.Scheme, contactPoints[0], o.Port)
		logger.Info("direct mode, bypassing alternator helper", zap.String("endpoint", endpoint))

		cfg, err := config.LoadDefaultConfig(ctx,
			config.WithRegion(o.Region), // Alternator ignores the region but the SDK requires one
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")),
			config.WithHTTPClient(o.httpClient(false)),
			config.WithRetryMaxAttempts(o.SDKAttempts),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}

		client := dynamodb.NewFromConfig(cfg, func(opt *dynamodb.Options) {
			opt.BaseEndpoint = aws.String(endpoint)
		})
		return client, nil
	}

	logger.Info("using alternator helper", zap.Int("contact_points", len(contactPoints)))

	helperOpts := []helper.Option{
		helper.WithPort(o.Port),
		helper.WithCredentials(o.AccessKey, o.SecretKey),
		helper.WithOptimizeHeaders(true),
		helper.WithIgnoreServerCertificateError(true),
		helper.WithScheme(o.Scheme),
	}

	// Only hand the helper a custom HTTP client when the pool size was set
	// explicitly; the helper manages its own client otherwise.
	if o.MaxConns > 0 {
		httpClient := o.httpClient(false)
		helperOpts = append(helperOpts, helper.WithAWSConfigOptions(func(cfg *aws.Config) {
			cfg.HTTPClient = httpClient
		}))
		logger.Info("alternator helper using custom HTTP client", zap.Int("max_conns", o.MaxConns))
	}

	h, err := helper.NewHelper(contactPoints, helperOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create alternator helper: %w", err)
	}

	client, err := h.NewDynamoDB()
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamodb client from helper: %w", err)
	}
	return client, nil
}
