package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the storage engine
type Metrics struct {
	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram

	StorageAccessTokensCount       metric.Int64ObservableGauge
	StorageRefreshTokensCount      metric.Int64ObservableGauge
	StorageAuthorizationCodesCount metric.Int64ObservableGauge
	StorageClientsCount            metric.Int64ObservableGauge

	// Token lifecycle Metrics
	AccessTokensIssued        metric.Int64Counter
	RefreshTokensUnset        metric.Int64Counter
	AuthorizationCodesExpired metric.Int64Counter

	// Claims Metrics
	ClaimsResolved metric.Int64Counter
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	storageMeter := inst.Meter("storage")
	claimsMeter := inst.Meter("claims")

	var err error
	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"oauth.storage.operations.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operations.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"oauth.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StorageAccessTokensCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.access_tokens",
		metric.WithDescription("Number of access token rows in storage"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.access_tokens gauge: %w", err)
	}

	m.StorageRefreshTokensCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.refresh_tokens",
		metric.WithDescription("Number of refresh token rows in storage"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.refresh_tokens gauge: %w", err)
	}

	m.StorageAuthorizationCodesCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.authorization_codes",
		metric.WithDescription("Number of authorization code rows in storage"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.authorization_codes gauge: %w", err)
	}

	m.StorageClientsCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.clients",
		metric.WithDescription("Number of registered client rows in storage"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.clients gauge: %w", err)
	}

	m.AccessTokensIssued, err = storageMeter.Int64Counter(
		"oauth.tokens.issued",
		metric.WithDescription("Number of access tokens persisted, by created/updated path"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.issued counter: %w", err)
	}

	m.RefreshTokensUnset, err = storageMeter.Int64Counter(
		"oauth.refresh_tokens.unset",
		metric.WithDescription("Number of refresh tokens invalidated by rotation"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh_tokens.unset counter: %w", err)
	}

	m.AuthorizationCodesExpired, err = storageMeter.Int64Counter(
		"oauth.authorization_codes.expired",
		metric.WithDescription("Number of authorization codes expired after exchange"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization_codes.expired counter: %w", err)
	}

	m.ClaimsResolved, err = claimsMeter.Int64Counter(
		"oauth.claims.resolved",
		metric.WithDescription("Number of UserInfo claim resolutions"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create claims.resolved counter: %w", err)
	}

	return m, nil
}

// RecordStorageOperation records a storage operation's count and duration.
// backend names the implementation ("memory", "sqlite", "postgres") and
// operation the storage method in snake_case.
func (m *Metrics) RecordStorageOperation(ctx context.Context, backend, operation string, err error, start time.Time) {
	if m == nil {
		return
	}

	result := "success"
	if err != nil {
		result = "error"
	}

	attrs := metric.WithAttributes(
		attribute.String(AttrStorageType, backend),
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageResult, result),
	)

	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
}
