package main

import (
	"context"
	"os"
	"time"

	"github.com/aukilabs/bygg/lifecycle"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/segmentio/encoding/json"
)

// importSeed creates the objects listed in a JSON file, in order, inside a
// single transaction, then runs a batch detection over them. Objects can
// reference the ids of objects listed before them in their relationships.
func importSeed(ctx context.Context, e *lifecycle.Engine, filename string) error {
	start := time.Now()

	b, err := os.ReadFile(filename)
	if err != nil {
		return errors.New("reading seed file failed").
			WithTag("filename", filename).
			Wrap(err)
	}

	var reqs []lifecycle.CreateRequest
	if err := json.Unmarshal(b, &reqs); err != nil {
		return errors.New("decoding seed file failed").
			WithTag("filename", filename).
			Wrap(err)
	}

	e.BeginTransaction(ctx, "seed")

	for i, req := range reqs {
		if _, err := e.Create(ctx, req); err != nil {
			if rerr := e.RollbackTransaction(ctx); rerr != nil {
				logs.Warn(rerr)
			}
			return errors.New("importing seed object failed").
				WithTag("filename", filename).
				WithTag("index", i).
				WithTag("type", req.Type).
				Wrap(err)
		}
	}

	if err := e.CommitTransaction(ctx); err != nil {
		return errors.New("committing seed failed").
			WithTag("filename", filename).
			Wrap(err)
	}

	reports, err := e.DetectAll(ctx)
	if err != nil {
		return errors.New("detecting seed conflicts failed").Wrap(err)
	}

	logs.WithTag("filename", filename).
		WithTag("objects", len(reqs)).
		WithTag("conflicts", len(reports)).
		WithTag("duration", time.Since(start)).
		Info("seed imported")
	return nil
}
