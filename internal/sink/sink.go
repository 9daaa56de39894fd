// Package sink persists extracted fragments as named artifacts.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/hoops-harvester/internal/harvest"
	"github.com/JakeFAU/hoops-harvester/internal/metrics"
)

// DefaultContentType is attached to every stored fragment unless overridden.
const DefaultContentType = "text/html; charset=utf-8"

// Namer maps a job onto its artifact name.
type Namer interface {
	ArtifactName(job harvest.Job) (string, error)
}

// Sink implements harvest.ArtifactSink on top of a BlobStore.
type Sink struct {
	names       Namer
	store       harvest.BlobStore
	hasher      harvest.Hasher
	clock       harvest.Clock
	contentType string
}

var _ harvest.ArtifactSink = (*Sink)(nil)

// New wires a Sink. Hasher is optional.
func New(names Namer, store harvest.BlobStore, hasher harvest.Hasher, clock harvest.Clock, contentType string) (*Sink, error) {
	if names == nil {
		return nil, errors.New("sink requires an artifact namer")
	}
	if store == nil {
		return nil, errors.New("sink requires a blob store")
	}
	if clock == nil {
		return nil, errors.New("sink requires a clock")
	}
	if contentType == "" {
		contentType = DefaultContentType
	}
	return &Sink{
		names:       names,
		store:       store,
		hasher:      hasher,
		clock:       clock,
		contentType: contentType,
	}, nil
}

// Store writes fragment under the job's artifact name, replacing any prior
// content. Every failure is returned as a *harvest.StoreError.
func (s *Sink) Store(ctx context.Context, job harvest.Job, fragment []byte) (harvest.Artifact, error) {
	name, err := s.names.ArtifactName(job)
	if err != nil {
		return harvest.Artifact{}, &harvest.StoreError{Artifact: job.Key(), Err: err}
	}
	if len(bytes.TrimSpace(fragment)) == 0 {
		return harvest.Artifact{}, &harvest.StoreError{Artifact: name, Err: harvest.ErrEmptyFragment}
	}

	var digest string
	if s.hasher != nil {
		digest, err = s.hasher.Hash(fragment)
		if err != nil {
			return harvest.Artifact{}, &harvest.StoreError{Artifact: name, Err: fmt.Errorf("hash fragment: %w", err)}
		}
	}

	uri, err := s.store.PutObject(ctx, name, s.contentType, bytes.NewReader(fragment))
	if err != nil {
		return harvest.Artifact{}, &harvest.StoreError{Artifact: name, Err: err}
	}
	metrics.ObserveArtifact(string(job.Category), len(fragment))

	return harvest.Artifact{
		Job:      job,
		Name:     name,
		URI:      uri,
		Size:     len(fragment),
		Hash:     digest,
		StoredAt: s.clock.Now(),
	}, nil
}
