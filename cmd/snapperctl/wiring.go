// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"

	"github.com/grailbio/snapper/clusterindex"
	"github.com/grailbio/snapper/clusterstats"
	"github.com/grailbio/snapper/config"
	"github.com/grailbio/snapper/distance"
	"github.com/grailbio/snapper/historylog"
	"github.com/grailbio/snapper/mergelog"
	"github.com/grailbio/snapper/query"
	"github.com/grailbio/snapper/registrar"
	"github.com/grailbio/snapper/remover"
	"github.com/grailbio/snapper/store"
	"github.com/grailbio/snapper/variantstore"
)

// app bundles every collaborator needed by the subcommands, wired against
// one Postgres-backed store.DB.
type app struct {
	db        *store.DB
	cfg       *config.Config
	vs        variantstore.Store
	idx       clusterindex.Index
	stats     clusterstats.Store
	means     clusterstats.SampleMeans
	history   historylog.Log
	merges    mergelog.Log
	dist      *distance.Engine
	registrar *registrar.Registrar
	remover   *remover.Remover
	query     *query.Query
}

// openApp loads configuration (falling back to the embedded default if
// configPath is empty), opens the backing store, applies outstanding
// migrations, and wires every package's Postgres-backed implementation
// together.
func openApp(ctx context.Context, configPath string) (*app, error) {
	var cfg *config.Config
	var err error
	if configPath == "" {
		cfg, err = config.Default()
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, cfg.Database.DSN, int32(cfg.Database.MaxConns))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	pool := db.Pool()
	vs, err := variantstore.NewPGStore(pool)
	if err != nil {
		db.Close()
		return nil, err
	}
	idx := clusterindex.NewPGIndex(pool)
	stats := clusterstats.NewPGStore(pool)
	means := clusterstats.NewPGSampleMeans(pool)
	history := historylog.NewPGLog(pool)
	merges := mergelog.NewPGLog(pool)
	dist := distance.NewEngine(vs)

	return &app{
		db:        db,
		cfg:       cfg,
		vs:        vs,
		idx:       idx,
		stats:     stats,
		means:     means,
		history:   history,
		merges:    merges,
		dist:      dist,
		registrar: registrar.New(vs, idx, stats, means, history, merges, dist, cfg.Clustering),
		remover:   remover.New(vs, idx, stats, means, history, dist, cfg.Clustering),
		query:     query.New(vs, idx, stats, history, dist, cfg.Clustering),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
}
