/*
Package config loads calltree settings from YAML or JSON.

# Overview

Config wraps a map[string]any and provides typed accessors that return a
default value when a key is missing or has the wrong type. Persistence
settings are read from the "persistence" section into a Persistence value,
which OpenStrategy turns into a ready persist strategy.

# Basic Usage

	cfg, err := config.FromFile("calltree.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	p, err := config.ParsePersistence(cfg)
	if err != nil {
	    log.Fatal(err) // errors.Is(err, config.ErrInvalidConfig)
	}

	store, err := config.OpenStrategy(p)
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	chain := reg.NewChain("checkout", calltree.WithStrategy(store))

# Backends

  - json, yaml: one file holding the whole document (package persist/jsonfile)
  - sqlite: one row per chain (package persist/sqlite)
  - memory: process memory, nothing survives exit

When backend is omitted it is inferred from the path extension:
.json, .yaml/.yml, .db/.sqlite/.sqlite3.

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
