// Package secrets resolves secret:// references against Google Secret
// Manager, with an in-process cache and a local fallback file for
// development environments without Secret Manager access.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/pawmart/api/internal/platform/secrets"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references. Values are cached for the process
// lifetime; the Stripe key and friends do not rotate underneath a running
// instance.
type Fetcher struct {
	client     accessClient
	ownsClient bool

	logger  *zap.Logger
	project string
	pins    map[string]string

	fallback localStore

	mu    sync.RWMutex
	cache map[string]resolved

	latency        metric.Float64Histogram
	latencyEnabled bool

	// construction-only state, so Options can stay simple closures
	meterOverride metric.Meter
	clientOpts    []option.ClientOption
}

type resolved struct {
	value     string
	source    string
	fetchedAt time.Time
}

// Option customises Fetcher construction.
type Option func(*Fetcher)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithDefaultProject sets the GCP project secrets are read from when the
// reference itself carries no project override.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) {
		f.project = strings.TrimSpace(projectID)
	}
}

// WithFallbackFile overrides the path of the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) {
		f.fallback.path = strings.TrimSpace(path)
	}
}

// WithVersionPins pins specific secret versions, keyed by canonical
// reference. References without a pin resolve "latest".
func WithVersionPins(pins map[string]string) Option {
	return func(f *Fetcher) {
		for ref, version := range pins {
			if v := strings.TrimSpace(version); v != "" {
				f.pins[ref] = v
			}
		}
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(f *Fetcher) {
		if m != nil {
			f.meterOverride = m
		}
	}
}

// WithSecretManagerClient injects a preconfigured client, primarily for tests.
func WithSecretManagerClient(client accessClient) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithClientOptions forwards Cloud client options when constructing the
// Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(f *Fetcher) {
		f.clientOpts = append(f.clientOpts, opts...)
	}
}

// NewFetcher builds a Fetcher. A missing Secret Manager client is not fatal;
// the fetcher then serves exclusively from the fallback file, which is the
// normal mode for local development.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger: zap.NewNop(),
		pins:   map[string]string{},
		cache:  map[string]resolved{},
		fallback: localStore{
			path: defaultFallbackPath,
		},
	}
	for _, opt := range opts {
		opt(f)
	}

	meter := f.meterOverride
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(meterName)
	}
	latency, err := meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret fetch attempts"),
	)
	if err != nil {
		f.logger.Warn("secrets: unable to register latency metric", zap.Error(err))
	}
	f.latency = latency
	f.latencyEnabled = err == nil

	if f.client == nil {
		client, err := secretManagerClientFactory(ctx, f.clientOpts...)
		if err != nil {
			f.logger.Warn("secrets: secret manager client unavailable; operating in fallback mode", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}

	return f, nil
}

// Close releases the Secret Manager client if the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the secret value for a secret:// reference. Remote values
// are cached. Access failures that look environmental (missing permissions,
// unreachable service) fall through to the fallback file; a genuinely absent
// secret is an error.
func (f *Fetcher) Resolve(ctx context.Context, reference string) (string, error) {
	start := time.Now()

	ref, err := parseRef(reference)
	if err != nil {
		return "", err
	}
	version := f.pinnedVersion(ref)
	key := ref.canonical + "#" + version

	f.mu.RLock()
	entry, hit := f.cache[key]
	f.mu.RUnlock()
	if hit {
		f.observe(ctx, start, "cache")
		return entry.value, nil
	}

	project := ref.project
	if project == "" {
		project = f.project
	}

	if project != "" && f.client != nil {
		value, err := f.access(ctx, project, ref.name, version)
		switch {
		case err == nil:
			f.store(key, value, "remote")
			f.observe(ctx, start, "remote")
			return value, nil
		case !environmental(err):
			f.observe(ctx, start, "error")
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", ref.canonical, err)
		default:
			f.logger.Debug("secrets: falling back to local secrets",
				zap.String("ref", ref.canonical), zap.Error(err))
		}
	}

	value, ok := f.fallback.get(f.logger, ref.canonical, version)
	if !ok {
		f.observe(ctx, start, "error")
		return "", fmt.Errorf("secrets: fallback value not found for %s", ref.canonical)
	}
	f.store(key, value, "fallback")
	f.observe(ctx, start, "fallback")
	return value, nil
}

func (f *Fetcher) access(ctx context.Context, project, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resource)
	}
	return string(resp.Payload.GetData()), nil
}

func (f *Fetcher) pinnedVersion(r ref) string {
	if r.version != "" {
		return r.version
	}
	if pin, ok := f.pins[r.canonical]; ok {
		return pin
	}
	return "latest"
}

func (f *Fetcher) store(key, value, source string) {
	f.mu.Lock()
	f.cache[key] = resolved{value: value, source: source, fetchedAt: time.Now()}
	f.mu.Unlock()
}

func (f *Fetcher) observe(ctx context.Context, start time.Time, source string) {
	if !f.latencyEnabled {
		return
	}
	f.latency.Record(ctx, float64(time.Since(start))/float64(time.Millisecond),
		metric.WithAttributes(attribute.String("source", source)))
}

// environmental reports whether an access error indicates the environment
// rather than the secret: those are the cases the fallback file may cover.
func environmental(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

type ref struct {
	canonical string
	name      string
	version   string
	project   string
}

func parseRef(reference string) (ref, error) {
	if strings.TrimSpace(reference) == "" {
		return ref{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(reference)
	if err != nil {
		return ref{}, fmt.Errorf("secrets: invalid reference %q: %w", reference, err)
	}
	if u.Scheme != "secret" {
		return ref{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return ref{}, fmt.Errorf("secrets: missing secret name in %q", reference)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	query := u.Query()
	return ref{
		canonical: canonical.String(),
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// localStore reads the fallback secrets file once. Lines are KEY=VALUE with
// # comments; keys may use either the secret:// or sm:// spelling.
type localStore struct {
	path   string
	once   sync.Once
	values map[string]string
}

func (s *localStore) get(logger *zap.Logger, canonical, version string) (string, bool) {
	s.once.Do(func() { s.load(logger) })
	if v, ok := s.values[canonical+"#"+version]; ok {
		return v, true
	}
	v, ok := s.values[canonical]
	return v, ok
}

func (s *localStore) load(logger *zap.Logger) {
	s.values = map[string]string{}
	if s.path == "" {
		return
	}

	file, err := os.Open(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Debug("secrets: unable to open fallback file",
				zap.String("path", s.path), zap.Error(err))
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = normalizeScheme(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		parsed, err := parseRef(key)
		if err != nil {
			s.values[key] = value
			continue
		}
		version := parsed.version
		if version == "" {
			version = "latest"
		}
		s.values[parsed.canonical] = value
		s.values[parsed.canonical+"#"+version] = value
	}
	if err := scanner.Err(); err != nil {
		logger.Debug("secrets: failed reading fallback file",
			zap.String("path", s.path), zap.Error(err))
	}
}

func normalizeScheme(key string) string {
	if strings.HasPrefix(key, "sm://") {
		return "secret://" + strings.TrimPrefix(key, "sm://")
	}
	return key
}
