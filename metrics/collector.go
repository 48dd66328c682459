// Package metrics provides per-install metrics collection.
//
// The Collector accumulates counters during a single installation run. It is
// a leaf package with no internal dependencies. All increment methods are
// nil-receiver safe so callers never need to guard instrumentation.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of install metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Artifact outcomes
	ArtifactsInstalled int64
	ArtifactsFailed    int64
	ArtifactsIgnored   int64

	// Stream accounting
	BytesConsumed int64
	BytesWritten  int64

	// Verification
	IntegrityFailures int64

	// Remote delegation
	ChunksAcked  int64
	ChunksNacked int64

	// Dimensions (informational, set at construction)
	InstallID string
	Source    string
	Policy    string
}

// Collector accumulates metrics during a single install.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	artifactsInstalled int64
	artifactsFailed    int64
	artifactsIgnored   int64

	bytesConsumed int64
	bytesWritten  int64

	integrityFailures int64

	chunksAcked  int64
	chunksNacked int64

	installID string
	source    string
	policy    string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(installID, source, policy string) *Collector {
	return &Collector{
		installID: installID,
		source:    source,
		policy:    policy,
	}
}

// IncArtifactInstalled records a successfully installed artifact.
func (c *Collector) IncArtifactInstalled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.artifactsInstalled++
	c.mu.Unlock()
}

// IncArtifactFailed records a failed artifact.
func (c *Collector) IncArtifactFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.artifactsFailed++
	c.mu.Unlock()
}

// IncArtifactIgnored records a failed artifact the policy chose to skip.
func (c *Collector) IncArtifactIgnored() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.artifactsIgnored++
	c.mu.Unlock()
}

// AddBytesConsumed adds to the on-wire byte count drained from the stream.
func (c *Collector) AddBytesConsumed(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bytesConsumed += n
	c.mu.Unlock()
}

// AddBytesWritten adds to the byte count written to destinations.
func (c *Collector) AddBytesWritten(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.bytesWritten += n
	c.mu.Unlock()
}

// IncIntegrityFailure records a checksum or digest mismatch.
func (c *Collector) IncIntegrityFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.integrityFailures++
	c.mu.Unlock()
}

// IncChunkAcked records one acknowledged delegation chunk.
func (c *Collector) IncChunkAcked() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunksAcked++
	c.mu.Unlock()
}

// IncChunkNacked records one rejected delegation chunk.
func (c *Collector) IncChunkNacked() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.chunksNacked++
	c.mu.Unlock()
}

// Snapshot returns an atomic copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ArtifactsInstalled: c.artifactsInstalled,
		ArtifactsFailed:    c.artifactsFailed,
		ArtifactsIgnored:   c.artifactsIgnored,
		BytesConsumed:      c.bytesConsumed,
		BytesWritten:       c.bytesWritten,
		IntegrityFailures:  c.integrityFailures,
		ChunksAcked:        c.chunksAcked,
		ChunksNacked:       c.chunksNacked,
		InstallID:          c.installID,
		Source:             c.source,
		Policy:             c.policy,
	}
}
