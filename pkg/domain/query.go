package domain

import "time"

// Query represents a read-only request. Concrete queries implement this
// interface directly — CacheKey/CacheTags replace reflective
// fingerprinting per the query bus and cache contracts.
type Query interface {
	// QueryType returns the stable, fully qualified query type name.
	QueryType() string

	// CacheKey returns a stable fingerprint for this query's parameters.
	// Two queries with equal CacheKey must be semantically equivalent.
	CacheKey() string

	// CacheTags returns the invalidation tags this query's cached result
	// should be filed under (e.g. "user:U-3").
	CacheTags() []string
}

// BatchableQuery is optionally implemented by queries whose handler can
// process a whole group more efficiently than one at a time.
type BatchableQuery interface {
	Query
	// BatchGroupKey groups queries that can share one handler invocation.
	BatchGroupKey() string
}

// QueryMetadata carries contextual information about a query.
type QueryMetadata struct {
	PrincipalID   string
	TenantID      string
	CorrelationID string
	Timestamp     time.Time
	// SkipCache flags an execution as bypassing all cache tiers.
	// cqrs.QueryBus takes a bare Query, not a QueryEnvelope, and does not
	// read this field.
	SkipCache bool
}

// QueryEnvelope wraps a query with its dispatch metadata.
type QueryEnvelope struct {
	Query    Query
	Metadata QueryMetadata
}
