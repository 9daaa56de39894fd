package harvest

import (
	"context"
	"io"
	"time"
)

// Session is one isolated rendering or HTTP session. It is acquired for a
// single attempt and must be closed on every exit path.
type Session interface {
	Extract(ctx context.Context, url string, rule Rule) (Page, error)
	Close() error
}

// SessionOpener hands out fresh sessions.
type SessionOpener interface {
	Open(ctx context.Context) (Session, error)
}

// Fetcher obtains one fragment of one remote resource.
type Fetcher interface {
	Fetch(ctx context.Context, url string, rule Rule) (FetchResult, error)
}

// Resolver maps a job identity onto its source URL, extraction rule and
// artifact name.
type Resolver interface {
	URL(job Job) (string, error)
	Rule(job Job) Rule
	ArtifactName(job Job) (string, error)
}

// ArtifactSink persists fragments as named artifacts.
type ArtifactSink interface {
	Store(ctx context.Context, job Job, fragment []byte) (Artifact, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ArtifactIndex records stored artifacts for later lookup.
type ArtifactIndex interface {
	RecordArtifact(ctx context.Context, runID string, artifact Artifact) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Limiter bounds the request rate against a remote host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Queue hands tasks from the dispatcher to workers.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// RunStore tracks runs and their job records.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, runID string, status RunStatus, errText string, counters RunCounters) error
	RecordJob(ctx context.Context, runID string, record JobRecord) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListJobs(ctx context.Context, runID string) ([]JobRecord, error)
}
