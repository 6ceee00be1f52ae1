// Package bundle pulls a shared trajectory-template bundle from an OCI
// registry before a session's first cycle, so a fleet of sessions can share
// a curated set of hand-authored trajectories (--trajectory-bundle) instead
// of each needing its own local copy (§4.C, §6).
package bundle

import (
	"context"
	"fmt"

	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/file"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"
)

// Pull fetches the OCI artifact at ref (e.g.
// "ghcr.io/org/wheelwright-trajectories:latest") and extracts its layers
// into destDir, which trajectory.Parse then reads as ordinary YAML files.
func Pull(ctx context.Context, ref, destDir string) error {
	store, err := file.New(destDir)
	if err != nil {
		return fmt.Errorf("open bundle destination %s: %w", destDir, err)
	}
	defer store.Close()

	repo, err := remote.NewRepository(ref)
	if err != nil {
		return fmt.Errorf("parse bundle reference %q: %w", ref, err)
	}
	repo.Client = &auth.Client{Client: retry.DefaultClient, Cache: auth.NewCache()}

	tag := repo.Reference.ReferenceOrDefault()
	if _, err := oras.Copy(ctx, repo, tag, store, tag, oras.DefaultCopyOptions); err != nil {
		return fmt.Errorf("pull trajectory bundle %q: %w", ref, err)
	}
	return nil
}
